package partition

import (
	"errors"
	"testing"

	"github.com/loghub/etl-core/pkg/timefmt"
)

func TestRewritePrefixKeepAll(t *testing.T) {
	prefix := "__ds__=2023-01-01-05-02/region=us-east-1"
	got, err := RewritePrefix(prefix, KeepAll())
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if got != prefix {
		t.Fatalf("got %q, want input unchanged", got)
	}
}

func TestRewritePrefixFilenameOnly(t *testing.T) {
	got, err := RewritePrefix("year=2023/month=01/app.log.gz", FilenameOnly())
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if got != "app.log.gz" {
		t.Fatalf("got %q, want %q", got, "app.log.gz")
	}
}

func TestRewritePrefixRetainRoundTrip(t *testing.T) {
	prefix := "__ds__=2023-01-01/region=us-east-1"
	policy := Rewrite(
		KeySpec{Key: "__ds__", Type: SpecRetain},
		KeySpec{Key: "region", Type: SpecRetain},
	)
	got, err := RewritePrefix(prefix, policy)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if got != prefix {
		t.Fatalf("retain policy changed prefix: %q", got)
	}
}

func TestRewritePrefixTimeBucketing(t *testing.T) {
	policy := Rewrite(
		KeySpec{Key: "__DS__", Type: SpecTime, From: "%Y-%m-%d-%H-%M", To: "%Y-%m-%d-%H-00"},
		KeySpec{Key: "region", Type: SpecDefault, Value: "all"},
	)
	got, err := RewritePrefix("__ds__=2023-01-01-05-02/region=us-east-1/az=use1-az1", policy)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	// Key casing from the input survives; unmatched segments pass through.
	want := "__ds__=2023-01-01-05-00/region=all/az=use1-az1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRewritePrefixMalformedTimeFails(t *testing.T) {
	policy := Rewrite(KeySpec{Key: "__ds__", Type: SpecTime, From: "%Y-%m-%d", To: "%Y-%m"})
	_, err := RewritePrefix("__ds__=2023-01-40", policy)
	if err == nil {
		t.Fatal("expected parse error for day 40")
	}
	var parseErr *timefmt.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *timefmt.ParseError, got %T", err)
	}
}

func TestPolicyFromValue(t *testing.T) {
	if p, err := PolicyFromValue(true); err != nil || p.Mode != ModeKeepAll {
		t.Fatalf("true: got %+v, %v", p, err)
	}
	if p, err := PolicyFromValue(false); err != nil || p.Mode != ModeFilenameOnly {
		t.Fatalf("false: got %+v, %v", p, err)
	}
	p, err := PolicyFromValue(map[string]any{
		"__ds__": map[string]any{"type": "time", "from": "%Y-%m-%d", "to": "%Y-%m"},
	})
	if err != nil || p.Mode != ModeRewrite || len(p.Specs) != 1 {
		t.Fatalf("map: got %+v, %v", p, err)
	}
	if _, err := PolicyFromValue(map[string]any{
		"__ds__": map[string]any{"type": "time"},
	}); err == nil {
		t.Fatal("time spec without from/to should fail")
	}
	if _, err := PolicyFromValue(42); err == nil {
		t.Fatal("unsupported type should fail")
	}
}

func TestNotificationPrefix(t *testing.T) {
	cases := map[string]string{
		"AWSLogs/app1/%Y/%m/":                    "AWSLogs/app1",
		"staging/year=2023/month=01/":            "staging",
		"year=2023/month=01/":                    "",
		"staging/app1/":                          "staging/app1",
		"":                                       "",
		"$LATEST/logs":                           "",
		"raw/svc/__ds__=2023-01-01/file.json.gz": "raw/svc",
	}
	for prefix, want := range cases {
		if got := NotificationPrefix(prefix); got != want {
			t.Errorf("NotificationPrefix(%q) = %q, want %q", prefix, got, want)
		}
	}
}

func TestPartitionPath(t *testing.T) {
	key := "staging/svc/__ds__=2023-01-01-05-02/region=us-east-1/api_name=%27Amazon%27/part-0001.gz"
	want := "__ds__=2023-01-01-05-02/region=us-east-1/api_name=%27Amazon%27"
	if got := PartitionPath(key); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := PartitionPath("plain/path/file.gz"); got != "" {
		t.Fatalf("non-partitioned key produced %q", got)
	}
}
