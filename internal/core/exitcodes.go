package core

// Process exit codes. Distinct values let the container runtime tell the
// failure domains apart from the exit status alone.
const (
	ExitOK            = 0 // clean, signal-initiated shutdown
	ExitConfig        = 2 // invalid configuration or schedule at startup
	ExitStartup       = 3 // serving process never became ready
	ExitServingDied   = 4 // serving process exited while running
	ExitSchedulerDied = 5 // scheduling loop failed while running
)
