package version

// Version is overridden at build time with -ldflags "-X flatbatch/version.Version=...".
var Version = "0.3.0"
