// Package output renders chainstate-cli results.
//
// Results are printed as an aligned table (default), JSON or YAML. Table
// rendering works on structs, slices and maps through reflection; fields
// tagged `table:"wide"` only appear with --wide, `table:"bytes"` prints
// a human-readable size, and values implementing fmt.Stringer print through
// String, so block hashes render as hex. Spinner and ProgressBar report
// long-running requests on stderr.
package output
