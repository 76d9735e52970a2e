package provider

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		uses string
		run  string
		want ActionKind
	}{
		{"actions/checkout@v4", "", ActionCheckout},
		{"actions/cache@v4", "", ActionCache},
		{"actions/cache/restore@v4", "", ActionCache},
		{"Swatinem/rust-cache@v2", "", ActionCache},
		{"actions/setup-go@v5", "", ActionSetup},
		{"dtolnay/rust-toolchain@stable", "", ActionSetup},
		{"actions-rs/toolchain@v1", "", ActionSetup},
		{"ruby/setup-ruby@v1", "", ActionSetup},
		{"", "cargo test", ActionRun},
		{"actions/checkout@v4", "echo both", ActionRun},
		{"docker/build-push-action@v6", "", ActionUnsupported},
		{"", "", ActionUnsupported},
	}
	for _, c := range cases {
		if got := Classify(c.uses, c.run); got != c.want {
			t.Fatalf("Classify(%q, %q) = %s, want %s", c.uses, c.run, got, c.want)
		}
	}
}

func TestActionName(t *testing.T) {
	if got := ActionName("actions/setup-go@v5"); got != "actions/setup-go" {
		t.Fatalf("unexpected action name %q", got)
	}
	if got := ActionName("local/action"); got != "local/action" {
		t.Fatalf("unexpected action name %q", got)
	}
}

func TestJobDisplayName(t *testing.T) {
	if got := (Job{ID: "build"}).DisplayName(); got != "build" {
		t.Fatalf("expected id fallback, got %q", got)
	}
	if got := (Job{ID: "build", Name: "Build"}).DisplayName(); got != "Build" {
		t.Fatalf("expected name, got %q", got)
	}
}
