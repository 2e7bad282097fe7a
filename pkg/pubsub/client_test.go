package pubsub

import (
	"testing"

	"github.com/angelmondragon/giftship-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	c := &Client{projectID: "giftship-prod"}

	cases := map[string]string{
		"order-events":                       "projects/giftship-prod/topics/order-events",
		" order-events ":                     "projects/giftship-prod/topics/order-events",
		"projects/other/topics/order-events": "projects/other/topics/order-events",
		"":                                   "",
	}
	for in, want := range cases {
		if got := c.topicResourceName(in); got != want {
			t.Fatalf("topicResourceName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	names := topicNames(config.PubSubConfig{OrdersTopic: "orders", NotificationTopic: "  "})
	if len(names) != 1 || names[0] != "orders" {
		t.Fatalf("unexpected topics %v", names)
	}
}
