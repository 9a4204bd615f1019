package studio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/vertex/pkg/provider/studio"
	studiomock "github.com/MrWong99/vertex/pkg/provider/studio/mock"
)

func TestVideo_SubmitAndPollToDone(t *testing.T) {
	t.Parallel()
	prov := &studiomock.VideoProvider{DoneAfter: 1, Video: []byte("mp4-bytes")}
	svc := NewVideoService(prov)
	ctx := context.Background()

	job, err := svc.Submit(ctx, "a drone shot over the sea")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.State != JobPending || job.ID == "" {
		t.Fatalf("job = %+v", job)
	}

	if _, _, err := svc.Download(ctx, job.ID); !errors.Is(err, ErrJobNotReady) {
		t.Errorf("Download before done: err = %v, want ErrJobNotReady", err)
	}

	svc.PollOnce(ctx)
	if got, _ := svc.Get(job.ID); got.State != JobPending {
		t.Fatalf("after first poll state = %s, want pending", got.State)
	}
	svc.PollOnce(ctx)
	got, err := svc.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != JobDone {
		t.Fatalf("after second poll state = %s, want done", got.State)
	}

	data, mime, err := svc.Download(ctx, job.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "mp4-bytes" || mime != "video/mp4" {
		t.Errorf("download = %q (%s)", data, mime)
	}

	// Finished jobs are not polled again.
	svc.PollOnce(ctx)
	if n := prov.PollCount("operations/1"); n != 2 {
		t.Errorf("poll count = %d, want 2", n)
	}
}

func TestVideo_FailedOperation(t *testing.T) {
	t.Parallel()
	prov := &studiomock.VideoProvider{FailWith: "prompt rejected"}
	svc := NewVideoService(prov)
	ctx := context.Background()

	job, err := svc.Submit(ctx, "something")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	svc.PollOnce(ctx)
	got, _ := svc.Get(job.ID)
	if got.State != JobFailed || got.Error != "prompt rejected" {
		t.Errorf("job = %+v", got)
	}
	if _, _, err := svc.Download(ctx, job.ID); !errors.Is(err, ErrJobNotReady) {
		t.Errorf("Download failed job: err = %v", err)
	}
	if prov.DownloadCount() != 0 {
		t.Error("failed job should not be downloaded")
	}
}

func TestVideo_PollErrorKeepsPending(t *testing.T) {
	t.Parallel()
	prov := &studiomock.VideoProvider{PollErr: errors.New("503")}
	svc := NewVideoService(prov)
	ctx := context.Background()

	job, err := svc.Submit(ctx, "waves")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	svc.PollOnce(ctx)
	if got, _ := svc.Get(job.ID); got.State != JobPending {
		t.Errorf("state = %s, want pending", got.State)
	}
}

func TestVideo_SubmitValidation(t *testing.T) {
	t.Parallel()
	prov := &studiomock.VideoProvider{}
	svc := NewVideoService(prov)

	if _, err := svc.Submit(context.Background(), " "); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("err = %v, want ErrEmptyPrompt", err)
	}
	prov.SubmitErr = errors.New("unauthorized")
	if _, err := svc.Submit(context.Background(), "ok"); err == nil {
		t.Error("expected submit error")
	}
	if n := len(svc.List()); n != 0 {
		t.Errorf("jobs = %d, want 0", n)
	}
}

func TestVideo_UnknownJob(t *testing.T) {
	t.Parallel()
	svc := NewVideoService(&studiomock.VideoProvider{})
	if _, err := svc.Get("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Get: err = %v", err)
	}
	if _, _, err := svc.Download(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Download: err = %v", err)
	}
}

func TestVideo_ListOrdersByCreation(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	clock := func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}
	svc := NewVideoService(&studiomock.VideoProvider{}, WithClock(clock))
	for _, p := range []string{"first", "second", "third"} {
		if _, err := svc.Submit(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	jobs := svc.List()
	if len(jobs) != 3 {
		t.Fatalf("len = %d", len(jobs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if jobs[i].Prompt != want {
			t.Errorf("jobs[%d] = %q, want %q", i, jobs[i].Prompt, want)
		}
	}
}

func TestVideo_RunPollsInBackground(t *testing.T) {
	t.Parallel()
	prov := &studiomock.VideoProvider{}
	svc := NewVideoService(prov, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	job, err := svc.Submit(context.Background(), "timelapse")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := svc.Get(job.ID)
		if got.State == JobDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never finished")
		}
		time.Sleep(2 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestVideo_InlineResultIsDone(t *testing.T) {
	t.Parallel()
	svc := NewVideoService(&studiomock.VideoProvider{})
	j := &videoJob{VideoJob: VideoJob{ID: "x", State: JobPending}}
	svc.mu.Lock()
	svc.apply(context.Background(), j, &studio.VideoOperation{Done: true, Video: []byte("v")})
	svc.mu.Unlock()
	if j.State != JobDone {
		t.Errorf("state = %s, want done", j.State)
	}
}
