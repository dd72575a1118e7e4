package trigger

//go:generate mockgen -source=tasker.go -destination=mock_tasker_test.go -package=trigger_test -mock_names=Tasker=MockTasker

// Tasker starts finite runs. *pulse.Engine implements it.
type Tasker interface {
	IsBusy() bool
	DoTasks(n int) error
}
