package util

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

func ContinueOrFatal(err error) {
	if err != nil {
		logrus.Fatal(err)
	}
}

// RunWithTimeout bounds a scheduled unit with a wall-clock ceiling so a hung
// exchange call cannot permanently occupy a worker slot.
func RunWithTimeout(name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("task %s timed out after %s", name, timeout)
	case err := <-done:
		return err
	}
}
