package utils

import "golang.org/x/net/context"

// CheckContextDone reports whether ctx is cancelled or past its deadline. It never blocks.
func CheckContextDone(ctx context.Context) bool {
	return ctx.Err() != nil
}
