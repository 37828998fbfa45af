package nifi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/open4go/log"
)

// Options 客户端参数
type Options struct {
	BaseURL            string
	Username           string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client NiFi REST API 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
	clientID   string
	username   string
	password   string
	token      string
}

// NewClient 创建客户端，BaseURL 形如 http://localhost:8080/nifi-api
func NewClient(opts Options) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		clientID:   uuid.NewString(),
		username:   opts.Username,
		password:   opts.Password,
	}
}

// Login 用户名密码换取 token，未配置用户名时直接返回
func (c *Client) Login(ctx context.Context) error {
	if c.username == "" {
		return nil
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/access/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.send(req)
	if err != nil {
		return err
	}
	c.token = strings.TrimSpace(string(body))

	log.Log(ctx).WithField("user", c.username).Info("[NiFi] Access token acquired")
	return nil
}

// FindComponent 按类型和名称查找端口或处理器，名称需完全一致且唯一
func (c *Client) FindComponent(ctx context.Context, kind Kind, name string) (*Component, error) {
	results, err := c.search(ctx, name)
	if err != nil {
		return nil, err
	}

	var candidates []searchResult
	var path string
	switch kind {
	case KindInputPort:
		candidates, path = results.InputPortResults, "/input-ports/"
	case KindOutputPort:
		candidates, path = results.OutputPortResults, "/output-ports/"
	case KindProcessor:
		candidates, path = results.ProcessorResults, "/processors/"
	case KindProcessGroup:
		candidates, path = results.ProcessGroupResults, "/process-groups/"
	default:
		return nil, fmt.Errorf("unsupported component kind %q", kind)
	}

	hit, err := exactMatch(candidates, kind, name)
	if err != nil {
		return nil, err
	}

	var entity componentEntity
	if err := c.doJSON(ctx, http.MethodGet, path+hit.ID, nil, &entity); err != nil {
		return nil, err
	}

	comp := &Component{
		ID:            entity.Component.ID,
		ParentGroupID: entity.Component.ParentGroupID,
		Name:          entity.Component.Name,
		Kind:          kind,
		Type:          entity.Component.Type,
		Revision:      entity.Revision,
	}
	if comp.ID == "" {
		comp.ID = hit.ID
	}
	if comp.ParentGroupID == "" {
		comp.ParentGroupID = hit.GroupID
	}

	log.Log(ctx).WithField("kind", kind).WithField("name", name).WithField("id", comp.ID).
		Info("[NiFi] Component resolved")
	return comp, nil
}

// FindProcessGroup 按名称查找 process group
func (c *Client) FindProcessGroup(ctx context.Context, name string) (*Component, error) {
	return c.FindComponent(ctx, KindProcessGroup, name)
}

// CreateConnection 在 source 所在的 process group 中创建连接
//
// 只有 source 为处理器时才会带上 relationship，端口没有关系可选
func (c *Client) CreateConnection(ctx context.Context, src, dst *Component, relationship string) (*Connection, error) {
	groupID := src.ParentGroupID
	if groupID == "" {
		groupID = dst.ParentGroupID
	}

	req := connectionEntity{
		Revision: Revision{Version: 0, ClientID: c.clientID},
		Component: connectionDTO{
			ParentGroupID: groupID,
			Source:        connectable{ID: src.ID, GroupID: src.ParentGroupID, Type: src.Kind},
			Destination:   connectable{ID: dst.ID, GroupID: dst.ParentGroupID, Type: dst.Kind},
		},
	}
	if src.Kind == KindProcessor && relationship != "" {
		req.Component.SelectedRelationships = []string{relationship}
	}

	var resp connectionEntity
	if err := c.doJSON(ctx, http.MethodPost, "/process-groups/"+groupID+"/connections", req, &resp); err != nil {
		return nil, err
	}

	conn := &Connection{
		ID:           resp.ID,
		Source:       src,
		Destination:  dst,
		Relationship: relationship,
	}
	if conn.ID == "" {
		conn.ID = resp.Component.ID
	}

	log.Log(ctx).WithField("source", src.Name).WithField("destination", dst.Name).
		WithField("relationship", relationship).WithField("id", conn.ID).
		Info("[NiFi] Connection created")
	return conn, nil
}

// UpdateProcessorProperties 更新处理器属性，先读取最新 revision
func (c *Client) UpdateProcessorProperties(ctx context.Context, proc *Component, props map[string]string) error {
	var current componentEntity
	if err := c.doJSON(ctx, http.MethodGet, "/processors/"+proc.ID, nil, &current); err != nil {
		return err
	}

	properties := make(map[string]*string, len(props))
	for k, v := range props {
		properties[k] = &v
	}

	rev := current.Revision
	rev.ClientID = c.clientID
	req := processorUpdate{
		Revision: rev,
		Component: processorUpdateInfo{
			ID:     proc.ID,
			Config: processorConfig{Properties: properties},
		},
	}

	var updated componentEntity
	if err := c.doJSON(ctx, http.MethodPut, "/processors/"+proc.ID, req, &updated); err != nil {
		return err
	}
	proc.Revision = updated.Revision

	log.Log(ctx).WithField("processor", proc.Name).WithField("properties", props).
		Info("[NiFi] Processor properties updated")
	return nil
}

// ScheduleProcessGroup 启动或停止 process group 下的所有组件
func (c *Client) ScheduleProcessGroup(ctx context.Context, pg *Component, enabled bool) error {
	state := "STOPPED"
	if enabled {
		state = "RUNNING"
	}

	req := scheduleEntity{ID: pg.ID, State: state}
	if err := c.doJSON(ctx, http.MethodPut, "/flow/process-groups/"+pg.ID, req, nil); err != nil {
		return err
	}

	log.Log(ctx).WithField("processGroup", pg.Name).WithField("state", state).
		Info("[NiFi] Process group scheduled")
	return nil
}

func (c *Client) search(ctx context.Context, name string) (*searchResults, error) {
	var entity searchResultsEntity
	path := "/flow/search-results?q=" + url.QueryEscape(name)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &entity); err != nil {
		return nil, err
	}
	return &entity.SearchResultsDTO, nil
}

// exactMatch 搜索接口是模糊匹配，这里只保留名称完全一致的结果
func exactMatch(candidates []searchResult, kind Kind, name string) (*searchResult, error) {
	var hits []searchResult
	for _, r := range candidates {
		if r.Name == name {
			hits = append(hits, r)
		}
	}
	switch len(hits) {
	case 0:
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, kind, name)
	case 1:
		return &hits[0], nil
	default:
		return nil, fmt.Errorf("%w: %d %s components named %q", ErrAmbiguous, len(hits), kind, name)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, err := c.send(req)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	return data, nil
}
