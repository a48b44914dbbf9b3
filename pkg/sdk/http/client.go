package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

type Client struct {
	client *resty.Client
}

// Options 客户端参数；零值使用默认
type Options struct {
	Timeout    time.Duration
	RetryCount int
	ProxyURL   string
	UserAgent  string
}

func (o Options) normalized() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RetryCount < 0 {
		o.RetryCount = 0
	} else if o.RetryCount == 0 {
		o.RetryCount = 2
	}
	if o.UserAgent == "" {
		o.UserAgent = "execbot/1.0"
	}
	return o
}

func NewClient(host string, opts ...Options) *Client {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	o = o.normalized()
	host = strings.TrimSuffix(host, "/")

	// 未显式配置代理时 resty 会读取 HTTP_PROXY/HTTPS_PROXY
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(o.Timeout).
		SetRetryCount(o.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("User-Agent", o.UserAgent).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// 只重试网络错误、429 和 5xx；4xx 业务错误不重试
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				return retryAfter(resp.Header().Get("Retry-After")), nil
			}
			return 0, nil
		})
	if o.ProxyURL != "" {
		client.SetProxy(o.ProxyURL)
	}
	return &Client{client: client}
}

// retryAfter 解析 Retry-After（秒）；缺失或非法时退 1 秒
func retryAfter(v string) time.Duration {
	if v == "" {
		return time.Second
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return time.Second
}

type RequestOptions struct {
	Headers map[string]string
	Data    any
	Params  map[string]any
	// RawQuery 已签名的查询串，直接拼接（不再编码/排序）
	RawQuery string
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	return r
}

// DoRequest 发送请求；out 非 nil 时按 JSON 解码 2xx 响应
func (c *Client) DoRequest(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) (*resty.Response, error) {
	rc := c.newRequest(ctx)
	if opt != nil {
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParamsFromValues(toValues(opt.Params))
		}
		if opt.RawQuery != "" {
			if strings.Contains(endpoint, "?") {
				endpoint += "&" + opt.RawQuery
			} else {
				endpoint += "?" + opt.RawQuery
			}
		}
		if opt.Data != nil {
			rc.SetHeader("Content-Type", "application/json")
			rc.SetBody(opt.Data)
		}
	}
	if out != nil {
		rc.SetResult(out)
	}

	switch strings.ToUpper(method) {
	case http.MethodGet:
		return rc.Get(endpoint)
	case http.MethodPost:
		return rc.Post(endpoint)
	case http.MethodDelete:
		return rc.Delete(endpoint)
	case http.MethodPut:
		return rc.Put(endpoint)
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}

// HTTPError 非 2xx 响应
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// CheckResponse 把传输错误和非 2xx 统一成 error
func CheckResponse(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	if resp.IsSuccess() {
		return nil
	}
	return &HTTPError{Status: resp.StatusCode(), Body: strings.TrimSpace(string(resp.Body()))}
}
