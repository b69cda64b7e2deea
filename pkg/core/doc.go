// Package core defines the shared language of dbrowse.
//
// This package contains:
//   - Connection profiles and engine kinds
//   - Table, column and index descriptors
//   - Page requests and results
//   - The error taxonomy every engine adapter maps its driver errors into
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
