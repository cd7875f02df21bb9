package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	// maxCreateWaitSeconds caps the inline wait the server will honor on
	// job creation.
	maxCreateWaitSeconds = 20

	defaultMaxPollRetries   = 100
	defaultPollRetryBackoff = time.Second
)

// PollOptions tunes CreateAndPollJob.
type PollOptions struct {
	// WaitSeconds is the inline wait on the create request, capped at 20.
	WaitSeconds int
	// MaxRetries bounds status polling after the inline wait (default 100).
	MaxRetries int
	// RetryInterval is the fixed pause between status polls (default 1s).
	RetryInterval time.Duration
}

// CreateJob submits a new job for a cluster tool, optionally holding the
// request open up to waitSeconds for an inline result.
func (c *Client) CreateJob(ctx context.Context, toolName string, input map[string]interface{}, waitSeconds int) (JobStatus, error) {
	if toolName == "" {
		return JobStatus{}, fmt.Errorf("tool name is required")
	}
	if input == nil {
		input = map[string]interface{}{}
	}

	payload := map[string]interface{}{
		"tool":  toolName,
		"input": input,
	}

	path := fmt.Sprintf("/clusters/%s/jobs", c.clusterID)
	if waitSeconds > 0 {
		if waitSeconds > maxCreateWaitSeconds {
			waitSeconds = maxCreateWaitSeconds
		}
		query := url.Values{}
		query.Set("waitTime", strconv.Itoa(waitSeconds))
		path += "?" + query.Encode()
	}

	body, _, err := c.post(ctx, path, payload)
	if err != nil {
		return JobStatus{}, fmt.Errorf("failed to create job: %w", err)
	}

	var status JobStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return JobStatus{}, fmt.Errorf("failed to parse create job response: %w", err)
	}

	return status, nil
}

// GetJob fetches the current status of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (JobStatus, error) {
	body, _, err := c.get(ctx, "/jobs/"+jobID)
	if err != nil {
		return JobStatus{}, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	var status JobStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return JobStatus{}, fmt.Errorf("failed to parse job response: %w", err)
	}

	return status, nil
}

// CreateAndPollJob creates a job and polls until it reaches a terminal
// status. "done" returns the job, "failure" returns a JobFailedError, any
// other non-pending status is an error, and an exhausted retry budget
// returns ErrPollTimeout.
func (c *Client) CreateAndPollJob(ctx context.Context, toolName string, input map[string]interface{}, opts PollOptions) (JobStatus, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxPollRetries
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = defaultPollRetryBackoff
	}

	job, err := c.CreateJob(ctx, toolName, input, opts.WaitSeconds)
	if err != nil {
		return JobStatus{}, err
	}

	if job.Status == "done" {
		return job, nil
	}
	if job.ID == "" {
		return JobStatus{}, fmt.Errorf("no job ID returned from create job")
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for i := 0; i < maxRetries; i++ {
		select {
		case <-ctx.Done():
			return JobStatus{}, ctx.Err()
		case <-timer.C:
		}
		timer.Reset(interval)

		job, err = c.GetJob(ctx, job.ID)
		if err != nil {
			return JobStatus{}, err
		}

		switch job.Status {
		case "done":
			return job, nil
		case "failure":
			message := job.Error
			if message == "" {
				message = fmt.Sprint(job.Result)
			}
			return JobStatus{}, &JobFailedError{JobID: job.ID, Message: message}
		case "pending", "running":
		default:
			return JobStatus{}, fmt.Errorf("unexpected job status: %s", job.Status)
		}
	}

	return JobStatus{}, fmt.Errorf("job %s still pending after %d retries: %w", job.ID, maxRetries, ErrPollTimeout)
}
