package types

// QueryOpt bounds a store listing query, mirroring the teacher's
// store/types QueryOpt used throughout adapter.go.
type QueryOpt struct {
	Since  int64
	Before int64
	Limit  int
}
