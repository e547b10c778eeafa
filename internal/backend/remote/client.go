// Package remote talks to the hosted backend: a PostgREST-style table API plus the job function.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tolkhub/jobwatch/config"
	"github.com/tolkhub/jobwatch/internal/backend"
	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/model/dto"
	"github.com/tolkhub/jobwatch/internal/pkg/apperr"
)

const (
	jobsTable     = "translation_jobs"
	itemsTable    = "translation_job_items"
	projectsTable = "projects"
)

type Client struct {
	http        *resty.Client
	baseURL     string
	anonKey     string
	jobFunction string
}

var _ backend.Backend = (*Client)(nil)

func New(cfg config.BackendConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		http:        resty.New().SetTimeout(timeout),
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		anonKey:     cfg.AnonKey,
		jobFunction: cfg.JobFunction,
	}
}

// request 构造带 apikey 与用户令牌的请求，没有用户令牌时退回匿名 key
func (c *Client) request(ctx context.Context) *resty.Request {
	token := backend.AccessToken(ctx)
	if token == "" {
		token = c.anonKey
	}
	return c.http.R().
		SetContext(ctx).
		SetHeader("apikey", c.anonKey).
		SetHeader("Accept", "application/json").
		SetAuthToken(token)
}

func (c *Client) restURL(table string) string {
	return c.baseURL + "/rest/v1/" + table
}

// errorBody 兼容 PostgREST 与任务函数两种错误格式
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Details string `json:"details"`
}

func (e *errorBody) text() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "":
		return e.Message
	default:
		return e.Error
	}
}

func (c *Client) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return apperr.Upstream(op, 0, err)
	}
	if !resp.IsError() {
		return nil
	}
	msg := ""
	if body, ok := resp.Error().(*errorBody); ok {
		msg = body.text()
	}
	if msg == "" {
		msg = fmt.Sprintf("%s: %s", op, resp.Status())
	}
	return apperr.FromStatus(op, resp.StatusCode(), msg, fmt.Errorf("%s; body: %s", resp.Status(), resp.String()))
}

// CreateJob 调用任务函数创建翻译任务
func (c *Client) CreateJob(ctx context.Context, in backend.CreateJobInput) (*dto.CreateJobResponse, error) {
	const op = "backend.createJob"
	var out dto.CreateJobResponse
	resp, err := c.request(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(in).
		SetResult(&out).
		SetError(&errorBody{}).
		Post(c.baseURL + "/functions/v1/" + c.jobFunction)
	if err := c.check(op, resp, err); err != nil {
		return nil, err
	}
	if out.JobID == "" {
		return nil, apperr.Upstream(op, resp.StatusCode(), fmt.Errorf("job function returned no job id"))
	}
	return &out, nil
}

// CancelJob 条件更新：只有 pending/running 的任务会被改为 cancelled
func (c *Client) CancelJob(ctx context.Context, jobID string) (*model.TranslationJob, error) {
	const op = "backend.cancelJob"
	var rows []*model.TranslationJob
	resp, err := c.request(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "return=representation").
		SetQueryParam("id", "eq."+jobID).
		SetQueryParam("status", activeFilter()).
		SetBody(map[string]any{
			"status":      model.JobStatusCancelled,
			"finished_at": time.Now().UTC(),
		}).
		SetResult(&rows).
		SetError(&errorBody{}).
		Patch(c.restURL(jobsTable))
	if err := c.check(op, resp, err); err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows[0], nil
	}

	// nothing matched: either the job is gone or it already finished
	current, err := c.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return nil, apperr.NotCancellable(jobID, string(current.Status))
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*model.TranslationJob, error) {
	const op = "backend.getJob"
	var rows []*model.TranslationJob
	resp, err := c.request(ctx).
		SetQueryParam("id", "eq."+jobID).
		SetQueryParam("select", "*").
		SetResult(&rows).
		SetError(&errorBody{}).
		Get(c.restURL(jobsTable))
	if err := c.check(op, resp, err); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("job", jobID)
	}
	return rows[0], nil
}

func (c *Client) FindActiveJobs(ctx context.Context, projectID string) ([]*model.TranslationJob, error) {
	const op = "backend.findActiveJobs"
	rows := []*model.TranslationJob{}
	resp, err := c.request(ctx).
		SetQueryParam("project_id", "eq."+projectID).
		SetQueryParam("status", activeFilter()).
		SetQueryParam("order", "created_at.desc").
		SetQueryParam("select", "*").
		SetResult(&rows).
		SetError(&errorBody{}).
		Get(c.restURL(jobsTable))
	if err := c.check(op, resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) ListJobs(ctx context.Context, projectID string, q dto.JobListQuery) (*model.JobPage, error) {
	const op = "backend.listJobs"
	q.Normalize()
	start, end := q.Range()

	order := q.SortBy + ".asc"
	if q.SortDesc {
		order = q.SortBy + ".desc"
	}
	req := c.request(ctx).
		SetQueryParam("project_id", "eq."+projectID).
		SetQueryParam("order", order).
		SetQueryParam("select", "*")
	if len(q.Statuses) > 0 {
		req.SetQueryParam("status", inFilter(q.Statuses))
	}

	rows := []*model.TranslationJob{}
	resp, err := paginate(req, start, end).
		SetResult(&rows).
		SetError(&errorBody{}).
		Get(c.restURL(jobsTable))
	if err == nil && resp.StatusCode() == http.StatusRequestedRangeNotSatisfiable {
		meta, _ := parseContentRange(resp.Header().Get("Content-Range"), start)
		return &model.JobPage{Data: []*model.TranslationJob{}, Metadata: meta}, nil
	}
	if err := c.check(op, resp, err); err != nil {
		return nil, err
	}
	meta, err := parseContentRange(resp.Header().Get("Content-Range"), start)
	if err != nil {
		return nil, apperr.Upstream(op, resp.StatusCode(), err)
	}
	return &model.JobPage{Data: rows, Metadata: meta}, nil
}

// itemRow 明细行，key 名通过嵌入关联查询得到
type itemRow struct {
	model.TranslationJobItem
	Key *struct {
		FullKey string `json:"full_key"`
	} `json:"translation_keys"`
}

func (c *Client) ListItems(ctx context.Context, jobID string, q dto.ItemListQuery) (*model.ItemPage, error) {
	const op = "backend.listItems"
	q.Normalize()
	start, end := q.Range()

	req := c.request(ctx).
		SetQueryParam("job_id", "eq."+jobID).
		SetQueryParam("select", "*,translation_keys(full_key)").
		SetQueryParam("order", "id.asc")
	if q.Status != "" {
		req.SetQueryParam("status", "eq."+string(q.Status))
	}

	var rows []itemRow
	resp, err := paginate(req, start, end).
		SetResult(&rows).
		SetError(&errorBody{}).
		Get(c.restURL(itemsTable))
	if err == nil && resp.StatusCode() == http.StatusRequestedRangeNotSatisfiable {
		// page past the end
		meta, _ := parseContentRange(resp.Header().Get("Content-Range"), start)
		return &model.ItemPage{Data: []*model.TranslationJobItem{}, Metadata: meta}, nil
	}
	if err := c.check(op, resp, err); err != nil {
		return nil, err
	}
	meta, err := parseContentRange(resp.Header().Get("Content-Range"), start)
	if err != nil {
		return nil, apperr.Upstream(op, resp.StatusCode(), err)
	}

	items := make([]*model.TranslationJobItem, 0, len(rows))
	for i := range rows {
		item := rows[i].TranslationJobItem
		if rows[i].Key != nil {
			item.KeyName = rows[i].Key.FullKey
		}
		items = append(items, &item)
	}
	return &model.ItemPage{Data: items, Metadata: meta}, nil
}

func (c *Client) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	const op = "backend.getProject"
	var rows []*model.Project
	resp, err := c.request(ctx).
		SetQueryParam("id", "eq."+projectID).
		SetQueryParam("select", "id,owner_id,name,default_locale,created_at,updated_at").
		SetResult(&rows).
		SetError(&errorBody{}).
		Get(c.restURL(projectsTable))
	if err := c.check(op, resp, err); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("project", projectID)
	}
	return rows[0], nil
}

func activeFilter() string {
	return inFilter(model.ActiveStatuses)
}

func inFilter(statuses []model.JobStatus) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return "in.(" + strings.Join(parts, ",") + ")"
}

func paginate(req *resty.Request, start, end int) *resty.Request {
	return req.
		SetHeader("Range-Unit", "items").
		SetHeader("Range", fmt.Sprintf("%d-%d", start, end)).
		SetHeader("Prefer", "count=exact")
}

// parseContentRange 解析 "0-19/57" 或 "*/0"
func parseContentRange(header string, start int) (model.PageMeta, error) {
	meta := model.PageMeta{Start: start, End: start - 1}
	if header == "" {
		return meta, fmt.Errorf("missing Content-Range header")
	}
	rng, total, ok := strings.Cut(header, "/")
	if !ok {
		return meta, fmt.Errorf("malformed Content-Range %q", header)
	}
	if total != "*" {
		n, err := strconv.ParseInt(total, 10, 64)
		if err != nil {
			return meta, fmt.Errorf("malformed Content-Range total %q: %w", header, err)
		}
		meta.Total = n
	}
	if rng == "*" {
		return meta, nil
	}
	from, to, ok := strings.Cut(rng, "-")
	if !ok {
		return meta, fmt.Errorf("malformed Content-Range %q", header)
	}
	s, err := strconv.Atoi(from)
	if err != nil {
		return meta, fmt.Errorf("malformed Content-Range start %q: %w", header, err)
	}
	e, err := strconv.Atoi(to)
	if err != nil {
		return meta, fmt.Errorf("malformed Content-Range end %q: %w", header, err)
	}
	meta.Start, meta.End = s, e
	return meta, nil
}
