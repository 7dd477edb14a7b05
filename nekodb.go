package nekodb

const version = "v0.1.0"

// Version returns the current library version.
func Version() string { return version }
