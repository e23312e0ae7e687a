package panel

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForType(t *testing.T) {
	reg := NewRegistry(time.Second)

	assert.IsType(t, &Marzneshin{}, reg.ForType(TypeMarzneshin))
	assert.IsType(t, &Marzban{}, reg.ForType(TypeMarzban))
	assert.IsType(t, &Sanaei{}, reg.ForType(TypeSanaei))

	// Неизвестный тип трактуется как marzneshin
	assert.IsType(t, &Marzneshin{}, reg.ForType(""))
	assert.IsType(t, &Marzneshin{}, reg.ForType("unknown"))
}

func TestRemoteNames(t *testing.T) {
	// Только sanaei разбивает имя по запятым
	assert.Equal(t, []string{"alice,bob"}, RemoteNames(TypeMarzban, "alice,bob"))
	assert.Equal(t, []string{"alice"}, RemoteNames(TypeMarzneshin, "alice"))

	assert.Equal(t, []string{"alice", "bob", "carol"}, RemoteNames(TypeSanaei, "alice, bob,,carol"))
	assert.Nil(t, RemoteNames(TypeSanaei, " , "))
}

func TestAllowedScheme(t *testing.T) {
	assert.True(t, AllowedScheme("vless://uuid@host:443"))
	assert.True(t, AllowedScheme("VMESS://base64"))
	assert.True(t, AllowedScheme("trojan://pwd@host:443"))
	assert.True(t, AllowedScheme("ss://creds@host:8388"))

	assert.False(t, AllowedScheme("http://example.com"))
	assert.False(t, AllowedScheme("# comment"))
	assert.False(t, AllowedScheme(""))
}

func TestHTTPErrorKinds(t *testing.T) {
	assert.Equal(t, KindAuth, httpError(401, nil).Kind)
	assert.Equal(t, KindAuth, httpError(403, nil).Kind)
	assert.Equal(t, KindNotFound, httpError(404, nil).Kind)
	assert.Equal(t, KindMalformed, httpError(422, nil).Kind)
	assert.Equal(t, KindTransient, httpError(500, nil).Kind)
	assert.Equal(t, KindTransient, httpError(502, nil).Kind)
}

func TestHTTPErrorMessage(t *testing.T) {
	err := httpError(500, []byte("  internal failure  "))
	assert.Equal(t, "500 internal failure", err.Error())

	// Длинное тело обрезается, чтобы не раздувать логи
	long := strings.Repeat("x", 500)
	err = httpError(400, []byte(long))
	assert.LessOrEqual(t, len(err.Error()), len("400 ")+200)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://p.example/api/users", joinURL("http://p.example/", "/api/users"))
	assert.Equal(t, "http://p.example/api/users", joinURL("http://p.example", "api/users"))
}
