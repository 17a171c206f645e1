package server

import (
	"testing"

	"github.com/JellyTony/zkpool/jobid"
	"github.com/JellyTony/zkpool/protocol"
)

func TestCoordinatorBroadcast(t *testing.T) {
	p := &fakePusher{}
	coord := newTestCoordinator(t, p, &fakeMQ{})
	coord.RegisterSession("c1", "s1", "ua", "0.2.0", "a1", "w1")
	coord.RegisterSession("c2", "s2", "ua", "0.2.0", "a2", "w2")
	coord.broadcastJob()
	if len(p.msgs) != 0 {
		t.Fatal("broadcast before first job")
	}
	job := coord.rotateJob()
	coord.broadcastJob()
	for _, id := range []string{"c1", "c2"} {
		if len(p.msgs[id]) != 1 {
			t.Fatalf("%s got %d messages", id, len(p.msgs[id]))
		}
		n := p.msgs[id][0].(protocol.Notify)
		if n.JobID != job.ID || n.EpochChallenge != job.EpochChallenge || n.Address != job.Address || !n.CleanJobs {
			t.Fatalf("notify %#v", n)
		}
	}
}

func TestCoordinatorRotateJob(t *testing.T) {
	coord := newTestCoordinator(t, &fakePusher{}, &fakeMQ{})
	if _, ok := coord.CurrentJob(); ok {
		t.Fatal("job before rotation")
	}
	var jobs []Job
	for i := 0; i < 5; i++ {
		jobs = append(jobs, coord.rotateJob())
	}
	for i, j := range jobs {
		if j.Height != uint32(i+1) || j.Epoch != j.Height/4 {
			t.Fatalf("job %d: height %d epoch %d", i, j.Height, j.Epoch)
		}
		id, err := jobid.Parse(j.ID)
		if err != nil {
			t.Fatal(err)
		}
		if id.Height != j.Height || id.Epoch != j.Epoch || id.ServerAgent != coord.cfg.ServerAgent || id.ServerID != coord.serverID {
			t.Fatalf("job id %+v", id)
		}
	}
	// heights 1..3 are epoch 0, 4..5 epoch 1
	if jobs[0].EpochChallenge != jobs[2].EpochChallenge {
		t.Fatal("challenge changed inside an epoch")
	}
	if jobs[2].EpochChallenge == jobs[3].EpochChallenge {
		t.Fatal("challenge kept across epochs")
	}
	if cur, _ := coord.CurrentJob(); cur.ID != jobs[4].ID {
		t.Fatal("current job")
	}
}

func TestCoordinatorSessions(t *testing.T) {
	coord := newTestCoordinator(t, &fakePusher{}, &fakeMQ{})
	coord.RegisterSession("c1", "s1", "ua", "0.2.0", "a1", "w1")
	if s, ok := coord.SessionBySessionID("s1"); !ok || s.ChannelID != "c1" {
		t.Fatal("lookup by session id")
	}
	coord.UnregisterSession("c1")
	if _, ok := coord.SessionBySessionID("s1"); ok || coord.Sessions() != 0 {
		t.Fatal("session not removed")
	}
}
