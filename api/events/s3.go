// Package events converts S3 notification payloads into the sync
// handler's event type. The same conversion backs both the Lambda
// entrypoint and the webhook server.
package events

import (
	"net/url"

	awsevents "github.com/aws/aws-lambda-go/events"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/ctfer-io/ctfd-deploy/pkg/challsync"
)

// FromS3 flattens an S3 event envelope into sync events. Object keys
// arrive URL-encoded in notifications and are decoded here once, so
// the handler always sees the real key.
func FromS3(ev awsevents.S3Event) ([]challsync.Event, error) {
	out := make([]challsync.Event, 0, len(ev.Records))
	for _, rec := range ev.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding object key %q", rec.S3.Object.Key)
		}
		out = append(out, challsync.Event{
			Bucket:    rec.S3.Bucket.Name,
			Key:       key,
			EventName: rec.EventName,
		})
	}
	return out, nil
}

// Decode parses a raw S3 notification body (webhook mode).
func Decode(body []byte) ([]challsync.Event, error) {
	var ev awsevents.S3Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, errors.Wrap(err, "decoding S3 event envelope")
	}
	if len(ev.Records) == 0 {
		return nil, errors.New("event envelope carries no records")
	}
	return FromS3(ev)
}
