package mockapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hypermusic-ai/dcn-go/pkg/client"
	"github.com/hypermusic-ai/dcn-go/pkg/identity"
)

func newTestServer(t *testing.T, accessTTL time.Duration) (*httptest.Server, *client.Client, *identity.Account) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := New(Config{
		JWTSecret:  []byte("test-secret"),
		AccessTTL:  accessTTL,
		RefreshTTL: time.Minute,
		Version:    "1.2.3-test",
	}, nil)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	acct, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate account: %v", err)
	}
	return srv, client.MustNew(srv.URL), acct
}

func TestVersion(t *testing.T) {
	_, c, _ := newTestServer(t, time.Minute)

	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v.Version != "1.2.3-test" {
		t.Fatalf("version = %q", v.Version)
	}
}

func TestLoginAndResourceLifecycle(t *testing.T) {
	_, c, acct := newTestServer(t, time.Minute)

	if _, err := c.Login(context.Background(), acct); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !c.Authenticated() || c.RefreshToken() == "" {
		t.Fatal("login did not establish a token pair")
	}

	tr, err := c.CreateTransformation(context.Background(), client.TransformationCreateRequest{
		Name:   "add",
		SolSrc: "function run(int x, int a) public pure returns (int) { return x + a; }",
	})
	if err != nil {
		t.Fatalf("CreateTransformation: %v", err)
	}
	if tr.Version != "1" || tr.Owner != acct.Address() {
		t.Fatalf("transformation = %+v", tr)
	}

	feat, err := c.CreateFeature(context.Background(), client.FeatureCreateRequest{
		Name: "melody",
		Dimensions: []client.FeatureDimension{
			{FeatureName: "pitch", Transformations: []client.TransformationRef{{Name: "add", Args: []int{2}}}},
			{FeatureName: "duration"},
		},
	})
	if err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}
	if feat.Version != "1" || len(feat.Dimensions) != 2 {
		t.Fatalf("feature = %+v", feat)
	}

	// A second create of the same name becomes version 2; the bare get
	// returns the latest.
	if _, err := c.CreateFeature(context.Background(), client.FeatureCreateRequest{Name: "melody"}); err != nil {
		t.Fatalf("CreateFeature v2: %v", err)
	}
	latest, err := c.GetFeature(context.Background(), "melody")
	if err != nil {
		t.Fatalf("GetFeature: %v", err)
	}
	if latest.Version != "2" {
		t.Fatalf("latest version = %q, want 2", latest.Version)
	}
	v1, err := c.GetFeatureVersion(context.Background(), "melody", "1")
	if err != nil {
		t.Fatalf("GetFeatureVersion: %v", err)
	}
	if len(v1.Dimensions) != 2 {
		t.Fatalf("version 1 = %+v", v1)
	}

	acctInfo, err := c.AccountInfo(context.Background(), acct.Address(), 10, 0)
	if err != nil {
		t.Fatalf("AccountInfo: %v", err)
	}
	if len(acctInfo.Features) != 2 || len(acctInfo.Transformations) != 1 {
		t.Fatalf("account = %+v", acctInfo)
	}
}

func TestAccountPagingBounds(t *testing.T) {
	refs := []client.ResourceRef{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	cases := []struct {
		name  string
		limit int
		page  int
		want  int
	}{
		{"first page", 2, 0, 2},
		{"second page", 2, 1, 1},
		{"past the end", 2, 5, 0},
		{"negative page", 10, -1, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := pageOf(refs, tc.limit, tc.page); len(got) != tc.want {
				t.Fatalf("pageOf(limit=%d, page=%d) = %v, want %d refs", tc.limit, tc.page, got, tc.want)
			}
		})
	}
}

func TestAccountNegativePageQuery(t *testing.T) {
	_, c, acct := newTestServer(t, time.Minute)
	if _, err := c.Login(context.Background(), acct); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := c.CreateFeature(context.Background(), client.FeatureCreateRequest{Name: "melody"}); err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}

	info, err := c.AccountInfo(context.Background(), acct.Address(), 10, -1)
	if err != nil {
		t.Fatalf("AccountInfo with negative page: %v", err)
	}
	if info.Page != 0 || len(info.Features) != 1 {
		t.Fatalf("account = %+v, want page 0 with 1 feature", info)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New(Config{
		JWTSecret:    []byte("test-secret"),
		RateLimitRPS: 1,
	}, nil)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	c := client.MustNew(srv.URL)

	// Burst is 2*rps; hammering past it must trip the limiter.
	var limited bool
	for i := 0; i < 5; i++ {
		_, err := c.Version(context.Background())
		var herr *client.HTTPError
		if errors.As(err, &herr) && herr.Status == http.StatusTooManyRequests {
			limited = true
			break
		}
		if err != nil {
			t.Fatalf("Version: %v", err)
		}
	}
	if !limited {
		t.Fatal("no request was rate limited")
	}
}

func TestExecute(t *testing.T) {
	_, c, acct := newTestServer(t, time.Minute)
	if _, err := c.Login(context.Background(), acct); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := c.CreateFeature(context.Background(), client.FeatureCreateRequest{
		Name: "melody",
		Dimensions: []client.FeatureDimension{
			{FeatureName: "pitch"},
			{FeatureName: "duration"},
		},
	}); err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}

	out, err := c.Execute(context.Background(), "melody", 5, []client.RunningInstance{
		{Start: 60, Shift: 2},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	wantPitch := []int{60, 62, 64, 66, 68}
	for i, v := range out.Samples["pitch"] {
		if v != wantPitch[i] {
			t.Fatalf("pitch samples = %v, want %v", out.Samples["pitch"], wantPitch)
		}
	}
	// The second dimension had no running instance and defaults to (0;1).
	wantDur := []int{0, 1, 2, 3, 4}
	for i, v := range out.Samples["duration"] {
		if v != wantDur[i] {
			t.Fatalf("duration samples = %v, want %v", out.Samples["duration"], wantDur)
		}
	}
}

func TestLoginRejectsWrongSigner(t *testing.T) {
	_, c, acct := newTestServer(t, time.Minute)

	// Sign with a different key than the claimed address.
	other, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate account: %v", err)
	}
	impostor := &mismatchedSigner{address: acct.Address(), key: other}

	_, err = c.Login(context.Background(), impostor)
	var herr *client.HTTPError
	if !errors.As(err, &herr) || !herr.Unauthorized() {
		t.Fatalf("err = %v, want 401 *HTTPError", err)
	}
}

type mismatchedSigner struct {
	address string
	key     *identity.Account
}

func (s *mismatchedSigner) Address() string { return s.address }

func (s *mismatchedSigner) SignMessage(message string) (string, error) {
	return s.key.SignMessage(message)
}

func TestNonceIsSingleUse(t *testing.T) {
	_, c, acct := newTestServer(t, time.Minute)

	if _, err := c.Login(context.Background(), acct); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Replaying the login without fetching a new nonce must fail: GetNonce
	// inside Login issued a fresh nonce, so sign against a stale one.
	nonce, err := c.GetNonce(context.Background(), acct.Address())
	if err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	if _, err := c.GetNonce(context.Background(), acct.Address()); err != nil {
		t.Fatalf("GetNonce: %v", err)
	}

	// The first nonce was replaced by the second request.
	staleSigner := &fixedNonceSigner{acct: acct, message: client.LoginMessage(nonce.Nonce)}
	_, err = c.Login(context.Background(), staleSigner)
	if err == nil {
		t.Fatal("stale nonce accepted")
	}
}

// fixedNonceSigner ignores the message it is asked to sign and always signs a
// captured stale one, simulating a replayed login.
type fixedNonceSigner struct {
	acct    *identity.Account
	message string
}

func (s *fixedNonceSigner) Address() string { return s.acct.Address() }

func (s *fixedNonceSigner) SignMessage(string) (string, error) {
	return s.acct.SignMessage(s.message)
}

func TestExpiredAccessTokenIsRefreshed(t *testing.T) {
	// A negative login TTL makes the access token from Login already
	// expired, so the first authenticated call 401s; the client must refresh
	// (which issues a valid token) and retry transparently.
	_, c, acct := newTestServer(t, -time.Minute)

	if _, err := c.Login(context.Background(), acct); err != nil {
		t.Fatalf("Login: %v", err)
	}
	expired := c.AccessToken()

	feat, err := c.CreateFeature(context.Background(), client.FeatureCreateRequest{Name: "melody"})
	if err != nil {
		t.Fatalf("CreateFeature through refresh: %v", err)
	}
	if feat.Owner != acct.Address() {
		t.Fatalf("feature = %+v", feat)
	}
	if c.AccessToken() == expired {
		t.Fatal("access token was not rotated")
	}
}
