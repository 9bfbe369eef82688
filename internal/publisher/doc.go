// Package publisher defines how crawl lifecycle events leave the process.
package publisher

import "context"

// Publisher delivers a JSON-encodable payload to a topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
