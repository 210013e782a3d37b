package authflow

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volatileeight/autopilot/internal/answers"
	"github.com/volatileeight/autopilot/internal/config"
	"github.com/volatileeight/autopilot/internal/session"
	"github.com/volatileeight/autopilot/internal/trace"
)

const loginPage = `<html><body>
<form><input type="hidden" name="DISESSIONID" value="sess-token-1" /></form>
</body></html>`

const settingsPage = `<html><body><script>
var SETTINGS = ({
    activation_url : 'activate.cgi',
    form_id: 'passcodeForm',
    token_id : "challenge.tok.9",
});
</script></body></html>`

const challengePage = `<html><body><table>
<tr><td><span id="Question1" name="Question1">What was the name of your first pet?</span></td></tr>
<tr><td><span id="Question2" name="Question2">In what city were you born?</span></td></tr>
</table></body></html>`

var testAnswers = answers.Static{
	"What was the name of your first pet?": "rex",
	"In what city were you born?":          "tulsa",
}

// portalOptions tweak the fake portal per test.
type portalOptions struct {
	loginBody     string
	challengeBody string
	submitBody    string
	wantEnrollHit bool
}

// newPortal stands up a fake portal covering the whole sign-on flow.
func newPortal(t *testing.T, opts portalOptions) (*httptest.Server, *map[string]int) {
	t.Helper()
	hits := map[string]int{}

	mux := http.NewServeMux()
	mux.HandleFunc("/onlineserv/HB/Login.cgi", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			hits["login-page"]++
			fmt.Fprint(w, loginPage)
			return
		}
		require.NoError(t, r.ParseForm())
		switch {
		case r.PostForm.Get("runmode") == "SIGN_IN":
			hits["login"]++
			assert.Equal(t, "sess-token-1", r.PostForm.Get("DISESSIONID"))
			assert.Equal(t, "user1", r.PostForm.Get("userNumber"))
			assert.Equal(t, "hunter2", r.PostForm.Get("password"))
			body := opts.loginBody
			if body == "" {
				body = settingsPage
			}
			fmt.Fprint(w, body)
		case r.PostForm.Get("ChallengeChoice") == "CQ":
			hits["challenge"]++
			assert.Equal(t, "challenge.tok.9", r.PostForm.Get("token"))
			if c, err := r.Cookie("SUBMITTED"); assert.NoError(t, err) {
				assert.Equal(t, "ANNA", c.Value)
			}
			body := opts.challengeBody
			if body == "" {
				body = challengePage
			}
			fmt.Fprint(w, body)
		case r.PostForm.Get("action") == "validateInfo":
			hits["submit"]++
			assert.Equal(t, "rex", r.PostForm.Get("Answer1"))
			assert.Equal(t, "tulsa", r.PostForm.Get("Answer2"))
			assert.Equal(t, "", r.PostForm.Get("Answer3"))
			body := opts.submitBody
			if body == "" {
				body = "<html><body>welcome</body></html>"
			}
			fmt.Fprint(w, body)
		case r.PostForm.Get("action") == "Continue":
			hits["enroll"]++
			assert.Equal(t, "no", r.PostForm.Get("mfa_enroll"))
			fmt.Fprint(w, "<html></html>")
		default:
			t.Errorf("unexpected login POST: %v", r.PostForm)
		}
	})
	mux.HandleFunc("/onlineserv/HB/HomeBanking.cgi", func(w http.ResponseWriter, r *http.Request) {
		hits["home"]++
		fmt.Fprint(w, "<html>home</html>")
	})
	mux.HandleFunc("/onlineserv/HB/Logout.cgi", func(w http.ResponseWriter, r *http.Request) {
		hits["logout"]++
		fmt.Fprint(w, "<html>bye</html>")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newFlow(t *testing.T, srv *httptest.Server) *Flow {
	t.Helper()
	client, err := session.New(session.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	portal := config.Default().Portal
	portal.BaseURL = srv.URL
	return New(client, portal, testAnswers, trace.Nop())
}

func TestAuthenticateHappyPath(t *testing.T) {
	srv, hits := newPortal(t, portalOptions{})
	flow := newFlow(t, srv)

	require.NoError(t, flow.Authenticate(context.Background(), Credentials{Username: "user1", Password: "hunter2"}))
	assert.Equal(t, StateAuthenticated, flow.State())

	assert.Equal(t, 1, (*hits)["login"])
	assert.Equal(t, 1, (*hits)["challenge"])
	assert.Equal(t, 1, (*hits)["submit"])
	assert.Equal(t, 1, (*hits)["home"])
	assert.Equal(t, 0, (*hits)["enroll"], "full-page response should skip enrollment decline")
}

func TestAuthenticateDeclinesEnrollment(t *testing.T) {
	srv, hits := newPortal(t, portalOptions{submitBody: "success"})
	flow := newFlow(t, srv)

	require.NoError(t, flow.Authenticate(context.Background(), Credentials{Username: "user1", Password: "hunter2"}))
	assert.Equal(t, StateAuthenticated, flow.State())
	assert.Equal(t, 1, (*hits)["enroll"])
}

func TestAuthenticateMissingSessionToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>maintenance window</body></html>")
	}))
	t.Cleanup(srv.Close)
	flow := newFlow(t, srv)

	err := flow.Authenticate(context.Background(), Credentials{})
	assert.ErrorIs(t, err, ErrNoSessionToken)
	assert.Equal(t, StateStart, flow.State())
}

func TestAuthenticateUnrecognizedLoginResponse(t *testing.T) {
	srv, _ := newPortal(t, portalOptions{loginBody: "<html><body>please call customer service</body></html>"})
	flow := newFlow(t, srv)

	err := flow.Authenticate(context.Background(), Credentials{Username: "user1", Password: "hunter2"})
	assert.ErrorIs(t, err, ErrUnrecognizedLoginResponse)
}

func TestAuthenticateUnresolvedChallenge(t *testing.T) {
	srv, _ := newPortal(t, portalOptions{})
	client, err := session.New(session.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	portal := config.Default().Portal
	portal.BaseURL = srv.URL
	flow := New(client, portal, answers.Static{}, trace.Nop())

	err = flow.Authenticate(context.Background(), Credentials{Username: "user1", Password: "hunter2"})
	assert.ErrorIs(t, err, ErrUnresolvedChallenge)
	assert.ErrorContains(t, err, `no answer configured for question "What was the name of your first pet?"`)
}

func TestAuthenticateChallengePageWithoutQuestions(t *testing.T) {
	srv, _ := newPortal(t, portalOptions{challengeBody: "<html><body><table></table></body></html>"})
	flow := newFlow(t, srv)

	err := flow.Authenticate(context.Background(), Credentials{Username: "user1", Password: "hunter2"})
	assert.ErrorIs(t, err, ErrUnresolvedChallenge)
	// A page with no question slots is a different operator problem than
	// a missing answer; the detail must say which one happened.
	assert.ErrorContains(t, err, "challenge page has no questions")
	assert.NotContains(t, err.Error(), "no answer configured")
}

func TestAuthenticateUnacknowledgedSubmit(t *testing.T) {
	srv, _ := newPortal(t, portalOptions{submitBody: "error: please try again"})
	flow := newFlow(t, srv)

	err := flow.Authenticate(context.Background(), Credentials{Username: "user1", Password: "hunter2"})
	assert.ErrorIs(t, err, ErrUnrecognizedLoginResponse)
}

func TestLogoutIsIdempotent(t *testing.T) {
	srv, hits := newPortal(t, portalOptions{})
	flow := newFlow(t, srv)

	require.NoError(t, flow.Authenticate(context.Background(), Credentials{Username: "user1", Password: "hunter2"}))
	require.NoError(t, flow.Logout(context.Background()))
	require.NoError(t, flow.Logout(context.Background()))

	assert.Equal(t, StateLoggedOut, flow.State())
	assert.Equal(t, 1, (*hits)["logout"], "second Logout must not hit the portal again")
}

func TestLogoutBeforeAuthenticationSkipsPortal(t *testing.T) {
	srv, hits := newPortal(t, portalOptions{})
	flow := newFlow(t, srv)

	require.NoError(t, flow.Logout(context.Background()))
	assert.Equal(t, StateLoggedOut, flow.State())
	assert.Equal(t, 0, (*hits)["logout"])
}

func TestAccountSummaryRequiresAuthentication(t *testing.T) {
	srv, _ := newPortal(t, portalOptions{})
	flow := newFlow(t, srv)

	_, err := flow.AccountSummary(context.Background())
	assert.Error(t, err)
}
