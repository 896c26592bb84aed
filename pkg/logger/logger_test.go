package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriterKeepsBoundedBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	w, err := newRotatingWriter(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("创建写入器失败: %v", err)
	}
	w.maxSize = 16
	defer w.Close()

	for i := 0; i < 5; i++ {
		if _, err := w.Write([]byte("0123456789\n")); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}
	for _, name := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(name); err != nil {
			t.Fatalf("期望存在 %s: %v", name, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("备份数量超过上限")
	}
}

func TestRotatingWriterDropsExpiredBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newRotatingWriter(path, 1, 3, 1)
	if err != nil {
		t.Fatalf("创建写入器失败: %v", err)
	}
	defer w.Close()
	if err := os.WriteFile(path+".2", []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.now = func() time.Time { return time.Now().Add(72 * time.Hour) }
	w.cleanupByAge()
	if _, err := os.Stat(path + ".2"); !os.IsNotExist(err) {
		t.Fatalf("过期备份应被删除")
	}
}

func TestNewRotatingWriterRequiresPath(t *testing.T) {
	if _, err := newRotatingWriter("", 1, 1, 1); err == nil {
		t.Fatalf("空路径应报错")
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil)).With("request_id", "req-1")
	ctx := WithContext(context.Background(), l)
	FromContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), `"request_id":"req-1"`) {
		t.Fatalf("缺少请求字段: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatalf("缺省时应返回全局日志")
	}
	if WithContext(ctx, nil) != ctx {
		t.Fatalf("nil 日志不应改变 context")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
