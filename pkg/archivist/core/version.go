package core

// Version is the tool version recorded in archive metadata.
const Version = "1.0.0"
