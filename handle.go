package dispatch

// BufferHandle identifies a buffer within a session.
type BufferHandle int

// PipelineHandle identifies a compiled pipeline within a session.
type PipelineHandle int

// KernelHandle identifies a kernel within a session.
type KernelHandle int

// InvalidHandle is returned alongside an error by every operation that
// issues a handle. No registry ever issues it.
const InvalidHandle = -1

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
