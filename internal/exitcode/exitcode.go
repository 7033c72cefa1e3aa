package exitcode

const (
	Success         = 0
	RuntimeFailure  = 1
	InvalidUsage    = 2
	InvalidConfig   = 3
	TrainingFailed  = 4
	TrainingStopped = 5
	Interrupted     = 130
)
