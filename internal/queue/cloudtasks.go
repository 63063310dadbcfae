package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// enqueueTimeout bounds the CreateTask call so a slow queue degrades
// gracefully instead of stalling submissions.
const enqueueTimeout = 5 * time.Second

// CloudTasksQueue delivers jobs as HTTP tasks. Each routing namespace maps
// to its own Cloud Tasks queue under the same project/location.
type CloudTasksQueue struct {
	client    *cloudtasks.Client
	project   string
	location  string
	targetURL string
}

// NewCloudTasksQueue connects the Cloud Tasks client. targetURL is the
// worker endpoint jobs are POSTed to.
func NewCloudTasksQueue(ctx context.Context, project, location, targetURL string) (*CloudTasksQueue, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}

	slog.Info("Cloud Tasks connected", "project", project, "location", location)
	return &CloudTasksQueue{
		client:    client,
		project:   project,
		location:  location,
		targetURL: targetURL,
	}, nil
}

// queuePath resolves the fully-qualified queue for a namespace.
func (q *CloudTasksQueue) queuePath(namespace string) string {
	return fmt.Sprintf("projects/%s/locations/%s/queues/%s",
		q.project, q.location, namespace)
}

// taskName derives a deterministic task name so re-enqueueing the same
// intent within the dedup window is a no-op on the queue side. Task IDs
// allow only [A-Za-z0-9_-].
func (q *CloudTasksQueue) taskName(namespace, intentID string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, intentID)
	return q.queuePath(namespace) + "/tasks/intent-" + id
}

// Enqueue creates one HTTP task for the job. An AlreadyExists response means
// the task was enqueued previously and counts as success.
func (q *CloudTasksQueue) Enqueue(ctx context.Context, namespace string, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"X-Tenant-ID":  job.TenantID,
	}
	for k, v := range job.TraceCarrier {
		headers[k] = v
	}

	req := &taskspb.CreateTaskRequest{
		Parent: q.queuePath(namespace),
		Task: &taskspb.Task{
			Name: q.taskName(namespace, job.IntentID),
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        q.targetURL,
					Headers:    headers,
					Body:       payload,
				},
			},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()

	if _, err := q.client.CreateTask(ctx, req); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("enqueue intent %s: %w", job.IntentID, err)
	}
	return nil
}

// Close shuts down the client.
func (q *CloudTasksQueue) Close() error {
	return q.client.Close()
}
