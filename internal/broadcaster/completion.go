package broadcaster

// Completion is the terminal event of a stream: either a normal finish or a
// failure carrying the upstream error verbatim.
type Completion struct {
	err error
}

func Finished() Completion {
	return Completion{}
}

// Failure wraps err as a terminal failure. A nil err is a normal finish.
func Failure(err error) Completion {
	return Completion{err: err}
}

func (c Completion) Err() error {
	return c.err
}

func (c Completion) Failed() bool {
	return c.err != nil
}

func (c Completion) String() string {
	if c.err != nil {
		return "failure: " + c.err.Error()
	}
	return "finished"
}
