package llmcap

import "time"

// StubSleep replaces the retry backoff with a no-op so tests don't wait.
func StubSleep(l *Layer) {
	l.sleep = func(time.Duration) {}
}
