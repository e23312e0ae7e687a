package panel

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// httpClient — тонкая обертка над http.Client, возвращающая статус и тело
// ответа. Транспортные сбои нормализуются в *Error, интерпретация статуса
// остается за адаптером.
type httpClient struct {
	c *http.Client
}

// responseCookies хранит cookie последнего ответа для обмена учетных данных
type response struct {
	status  int
	body    []byte
	header  http.Header
	cookies []*http.Cookie
}

func (h *httpClient) doJSON(method, rawURL string, headers map[string]string, payload interface{}) (*response, *Error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, parseError(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, rawURL, body)
	if err != nil {
		return nil, netError(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return h.do(req)
}

func (h *httpClient) doForm(method, rawURL string, headers map[string]string, form url.Values) (*response, *Error) {
	req, err := http.NewRequest(method, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, netError(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return h.do(req)
}

func (h *httpClient) do(req *http.Request) (*response, *Error) {
	resp, err := h.c.Do(req)
	if err != nil {
		return nil, netError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, netError(err)
	}

	return &response{
		status:  resp.StatusCode,
		body:    data,
		header:  resp.Header,
		cookies: resp.Cookies(),
	}, nil
}

// bearerHeaders возвращает заголовок авторизации с bearer-токеном
func bearerHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// cookieHeaders возвращает заголовок авторизации с cookie сессии
func cookieHeaders(token string) map[string]string {
	return map[string]string{"Cookie": token}
}
