package mq

import (
	"os"
	"testing"
	"time"

	"github.com/JellyTony/zkpool/events"
)

func TestRoutingKey(t *testing.T) {
	if k := RoutingKey(events.ShareEvent{Account: "acct"}); k != "share.acct" {
		t.Fatal(k)
	}
}

func TestRabbit(t *testing.T) {
	url := os.Getenv("ZKP_MQ_URL")
	if url == "" {
		t.Skip("MQ URL not provided")
	}
	r, err := NewRabbitMQ(url, "zkpool_test")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ch := r.Subscribe()
	if err := r.Publish(events.ShareEvent{Account: "a", Worker: "w", JobID: "j", Height: 7, Time: time.Now()}); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		if evt.Account != "a" || evt.Worker != "w" || evt.Height != 7 {
			t.Fatalf("event %+v", evt)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}
