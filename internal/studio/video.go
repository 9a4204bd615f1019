package studio

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vertex/internal/observe"
	"github.com/MrWong99/vertex/pkg/provider/studio"
)

const (
	// DefaultPollInterval is how often pending jobs are refreshed.
	DefaultPollInterval = 10 * time.Second

	// maxConcurrentPolls bounds provider calls per poll round.
	maxConcurrentPolls = 4
)

// JobState is the coarse state of a video job. There is no percentage: the
// provider reports only whether an operation is still running.
type JobState string

const (
	JobPending JobState = "pending"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// VideoJob is a snapshot of one video generation.
type VideoJob struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	State     JobState  `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type videoJob struct {
	VideoJob
	op *studio.VideoOperation
}

// VideoService submits video generations and tracks them until they finish.
// [VideoService.Run] must be running for pending jobs to progress.
type VideoService struct {
	provider studio.VideoProvider
	opts     options

	mu   sync.Mutex
	jobs map[string]*videoJob
}

// NewVideoService returns a VideoService backed by p.
func NewVideoService(p studio.VideoProvider, opts ...Option) *VideoService {
	return &VideoService{
		provider: p,
		opts:     buildOptions(opts),
		jobs:     make(map[string]*videoJob),
	}
}

// Submit starts a generation for prompt and returns the new job.
func (s *VideoService) Submit(ctx context.Context, prompt string) (VideoJob, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return VideoJob{}, ErrEmptyPrompt
	}

	ctx, span := observe.StartSpan(ctx, "studio.video.submit")
	start := time.Now()
	op, err := s.provider.SubmitVideo(ctx, studio.VideoRequest{Prompt: prompt})
	s.opts.metrics.RecordStudio(ctx, "video_submit", start)
	observe.EndSpan(span, err)
	if err != nil {
		s.opts.metrics.RecordProviderRequest(ctx, s.opts.providerName, "video", "error")
		s.opts.metrics.RecordProviderError(ctx, s.opts.providerName, "video")
		return VideoJob{}, fmt.Errorf("studio: submit video: %w", err)
	}
	s.opts.metrics.RecordProviderRequest(ctx, s.opts.providerName, "video", "ok")

	now := s.opts.now()
	id := uuid.NewString()
	ctx = observe.WithAttrs(ctx, slog.String("job_id", id))
	j := &videoJob{
		VideoJob: VideoJob{
			ID:        id,
			Prompt:    prompt,
			State:     JobPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		op: op,
	}
	s.opts.metrics.PendingVideos.Add(ctx, 1)
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.apply(ctx, j, op)
	snap := j.VideoJob
	s.mu.Unlock()

	observe.Logger(ctx).Info("studio: video submitted", "operation", op.Name)
	return snap, nil
}

// Get returns the job with the given id.
func (s *VideoService) Get(id string) (VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return VideoJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.VideoJob, nil
}

// List returns all jobs, oldest first.
func (s *VideoService) List() []VideoJob {
	s.mu.Lock()
	out := make([]VideoJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.VideoJob)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b VideoJob) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Download fetches the finished video of job id. It returns the bytes and
// their MIME type.
func (s *VideoService) Download(ctx context.Context, id string) ([]byte, string, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	var op *studio.VideoOperation
	var state JobState
	if ok {
		op, state = j.op, j.State
	}
	s.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if state != JobDone {
		return nil, "", fmt.Errorf("%w: %s is %s", ErrJobNotReady, id, state)
	}

	ctx, span := observe.StartSpan(ctx, "studio.video.download")
	start := time.Now()
	data, err := s.provider.DownloadVideo(ctx, op)
	s.opts.metrics.RecordStudio(ctx, "video_download", start)
	observe.EndSpan(span, err)
	if err != nil {
		s.opts.metrics.RecordProviderError(ctx, s.opts.providerName, "video")
		return nil, "", fmt.Errorf("studio: download video: %w", err)
	}
	mime := op.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	return data, mime, nil
}

// Run polls pending jobs every poll interval until ctx is cancelled.
func (s *VideoService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.PollOnce(ctx)
		}
	}
}

// PollOnce refreshes every pending job once. Poll errors are logged and the
// job stays pending until a later round succeeds.
func (s *VideoService) PollOnce(ctx context.Context) {
	s.mu.Lock()
	var pending []*videoJob
	for _, j := range s.jobs {
		if j.State == JobPending {
			pending = append(pending, j)
		}
	}
	s.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentPolls)
	for _, j := range pending {
		s.mu.Lock()
		op := j.op
		s.mu.Unlock()
		g.Go(func() error {
			ctx := observe.WithAttrs(ctx, slog.String("job_id", j.ID))
			got, err := s.provider.PollVideo(ctx, op)
			if err != nil {
				s.opts.metrics.RecordProviderError(ctx, s.opts.providerName, "video")
				observe.Logger(ctx).Warn("studio: poll video", "err", err)
				return nil
			}
			s.mu.Lock()
			s.apply(ctx, j, got)
			s.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// apply records op on j. Must be called with s.mu held and ctx carrying the
// job_id attribute.
func (s *VideoService) apply(ctx context.Context, j *videoJob, op *studio.VideoOperation) {
	if op == nil || j.State != JobPending {
		return
	}
	j.op = op
	j.UpdatedAt = s.opts.now()
	if !op.Done {
		return
	}
	if op.Error != "" {
		j.State = JobFailed
		j.Error = op.Error
	} else if op.VideoURI == "" && len(op.Video) == 0 {
		j.State = JobFailed
		j.Error = studio.ErrNoVideo.Error()
	} else {
		j.State = JobDone
	}
	s.opts.metrics.PendingVideos.Add(ctx, -1)
	observe.Logger(ctx).Info("studio: video finished", "state", j.State, "err", j.Error)
}
