// Package authflow drives the portal's multi-step sign-on: session
// initialization, credential submission, the identity challenge, and
// sign-off. The flow is a small state machine; every transition is a
// method that consumes a portal response and either advances the state
// or fails the run. There are no retries.
package authflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/volatileeight/autopilot/internal/answers"
	"github.com/volatileeight/autopilot/internal/config"
	"github.com/volatileeight/autopilot/internal/scrape"
	"github.com/volatileeight/autopilot/internal/session"
	"github.com/volatileeight/autopilot/internal/trace"
)

// State names a position in the sign-on flow.
type State int

const (
	StateStart State = iota
	StateSessionInitialized
	StateChallenged
	StateAuthenticated
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateSessionInitialized:
		return "session-initialized"
	case StateChallenged:
		return "challenged"
	case StateAuthenticated:
		return "authenticated"
	case StateLoggedOut:
		return "logged-out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Credentials are the portal sign-on credentials. They live only for
// the duration of one Authenticate call.
type Credentials struct {
	Username string
	Password string
}

// Markers and extraction patterns for the portal's login pages. The
// pages are matched after stripping line breaks, like the summary
// table, because the portal wraps attributes mid-tag.
var (
	sessionTokenRe = regexp.MustCompile(`(?i)input type="hidden" name="DISESSIONID" value="([^"]*)"`)
	settingsToken  = regexp.MustCompile(`token_id : "([0-9A-Za-z.]+)"`)
	questionRe     = regexp.MustCompile(`<td><span id="Question[0-9]" name="Question[0-9]">(.*?)</span></td>`)
	lineBreaks     = strings.NewReplacer("\r\n", "", "\n", "", "\r", "")
)

// challengeSlots is the fixed number of answer fields on the challenge
// form. The portal populates between zero and all of them.
const challengeSlots = 3

// Flow is one sign-on attempt against the portal. It owns the session
// client for the duration of the run and is not safe for concurrent
// use.
type Flow struct {
	client   *session.Client
	portal   config.Portal
	resolver answers.Resolver
	sink     trace.Sink

	state          state
	challengeToken string
}

// state is the mutable part of the flow, kept separate so transitions
// read as state-in, state-out.
type state struct {
	current      State
	sessionToken string
}

// New creates a flow in StateStart.
func New(client *session.Client, portal config.Portal, resolver answers.Resolver, sink trace.Sink) *Flow {
	if sink == nil {
		sink = trace.Nop()
	}
	return &Flow{
		client:   client,
		portal:   portal,
		resolver: resolver,
		sink:     sink,
		state:    state{current: StateStart},
	}
}

// State reports the flow's current position.
func (f *Flow) State() State {
	return f.state.current
}

// Authenticate drives the flow from StateStart to StateAuthenticated.
// On any failure the caller still owns sign-off; Logout is safe to call
// regardless of where the flow stopped.
func (f *Flow) Authenticate(ctx context.Context, creds Credentials) error {
	if err := f.initialize(ctx); err != nil {
		return err
	}
	if err := f.login(ctx, creds); err != nil {
		return err
	}
	if err := f.answerChallenge(ctx); err != nil {
		return err
	}
	return f.confirm(ctx)
}

// initialize fetches the sign-on page and extracts the session token
// from its hidden field.
func (f *Flow) initialize(ctx context.Context) error {
	trace.Emit(f.sink, "auth", "fetching sign-on page")
	resp, err := f.client.Do(ctx, session.Request{
		URL: f.portal.URL(f.portal.Endpoints.LoginPage),
	})
	if err != nil {
		return err
	}

	m := sessionTokenRe.FindStringSubmatch(resp.Body)
	if m == nil || m[1] == "" {
		return ErrNoSessionToken
	}
	f.state = state{current: StateSessionInitialized, sessionToken: m[1]}
	return nil
}

// login posts the credentials. A successful login always lands on the
// challenge setup page, whose embedded settings block carries the
// challenge token.
func (f *Flow) login(ctx context.Context, creds Credentials) error {
	trace.Emit(f.sink, "auth", "submitting credentials")
	resp, err := f.client.Do(ctx, session.Request{
		URL: f.portal.URL(f.portal.Endpoints.Login),
		Form: url.Values{
			"DISESSIONID":    {f.state.sessionToken},
			"runmode":        {"SIGN_IN"},
			"userNumber":     {creds.Username},
			"password":       {creds.Password},
			"x":              {"13"},
			"y":              {"8"},
			"loginStartPage": {""},
		},
	})
	if err != nil {
		return err
	}

	flat := lineBreaks.Replace(resp.Body)
	m := settingsToken.FindStringSubmatch(flat)
	if m == nil {
		return fmt.Errorf("%w: no settings token after login", ErrUnrecognizedLoginResponse)
	}
	f.challengeToken = m[1]
	f.state.current = StateChallenged
	return nil
}

// answerChallenge fetches the identity questions, resolves each
// populated slot, and submits the answers. Empty slots are normal; a
// populated slot without a configured answer fails the run.
func (f *Flow) answerChallenge(ctx context.Context) error {
	trace.Emit(f.sink, "auth", "fetching challenge questions")
	resp, err := f.client.Do(ctx, session.Request{
		URL:     f.portal.URL(f.portal.Endpoints.Login),
		Referer: f.portal.URL(f.portal.Endpoints.Login),
		Form: url.Values{
			"token":           {f.challengeToken},
			"ChallengeChoice": {"CQ"},
		},
		Cookies: []*http.Cookie{{Name: "SUBMITTED", Value: "ANNA"}},
	})
	if err != nil {
		return err
	}

	resolved, err := f.resolveQuestions(resp.Body)
	if err != nil {
		return err
	}

	trace.Emit(f.sink, "auth", "submitting challenge answers")
	form := url.Values{
		"token":  {f.challengeToken},
		"action": {"validateInfo"},
	}
	for i, answer := range resolved {
		form.Set(fmt.Sprintf("Answer%d", i+1), answer)
	}
	submit, err := f.client.Do(ctx, session.Request{
		URL:     f.portal.URL(f.portal.Endpoints.Login),
		Referer: f.portal.URL(f.portal.Endpoints.Login),
		Form:    form,
		Cookies: []*http.Cookie{{Name: "SUBMITTED", Value: "ANNA"}},
	})
	if err != nil {
		return err
	}

	switch {
	case strings.Contains(submit.Body, "<html>"):
		// Full page back: the challenge is done.
		return nil
	case strings.Contains(submit.Body, "success"):
		// The portal offers to remember this device; decline so the
		// questions are asked every run.
		return f.declineEnrollment(ctx, resolved)
	}
	return fmt.Errorf("%w: challenge submission not acknowledged", ErrUnrecognizedLoginResponse)
}

// resolveQuestions extracts the populated question slots and maps each
// to its configured answer. The returned slice always has one entry per
// form slot; unpopulated slots stay empty.
func (f *Flow) resolveQuestions(body string) ([]string, error) {
	matches := questionRe.FindAllStringSubmatch(lineBreaks.Replace(body), -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: challenge page has no questions", ErrUnresolvedChallenge)
	}

	resolved := make([]string, challengeSlots)
	for i, m := range matches {
		if i >= challengeSlots {
			break
		}
		question := strings.TrimSpace(m[1])
		if question == "" {
			continue
		}
		answer, err := f.resolver.Resolve(question)
		if err != nil {
			return nil, fmt.Errorf("%w: no answer configured for question %q", ErrUnresolvedChallenge, question)
		}
		resolved[i] = answer
	}
	return resolved, nil
}

// declineEnrollment tells the portal not to remember this device.
func (f *Flow) declineEnrollment(ctx context.Context, resolved []string) error {
	trace.Emit(f.sink, "auth", "declining device enrollment")
	_, err := f.client.Do(ctx, session.Request{
		URL:     f.portal.URL(f.portal.Endpoints.Login),
		Referer: f.portal.URL(f.portal.Endpoints.Login),
		Form: url.Values{
			"Answer1":    {resolved[0]},
			"Answer2":    {resolved[1]},
			"action":     {"Continue"},
			"mfa_enroll": {"no"},
		},
		Cookies: []*http.Cookie{{Name: "SUBMITTED", Value: "ANNA"}},
	})
	return err
}

// confirm loads the banking landing page, which the portal requires
// before any account page works.
func (f *Flow) confirm(ctx context.Context) error {
	trace.Emit(f.sink, "auth", "loading banking home")
	_, err := f.client.Do(ctx, session.Request{
		URL:     f.portal.URL(f.portal.Endpoints.HomeBanking),
		Referer: f.portal.URL(f.portal.Endpoints.Login),
	})
	if err != nil {
		return err
	}
	f.state.current = StateAuthenticated
	return nil
}

// AccountSummary fetches and parses the account summary page. Requires
// StateAuthenticated.
func (f *Flow) AccountSummary(ctx context.Context) (map[string]scrape.AccountSummary, error) {
	if f.state.current != StateAuthenticated {
		return nil, fmt.Errorf("account summary requires an authenticated session, flow is %s", f.state.current)
	}

	trace.Emit(f.sink, "auth", "fetching account summary")
	summaryURL := f.portal.URL(f.portal.Endpoints.Summary) + "?primaryButton=ACCOUNT_ACCESS&secondaryButton=ACCOUNT_SUMMARY"
	resp, err := f.client.Do(ctx, session.Request{
		URL:     summaryURL,
		Referer: summaryURL,
		Cookies: []*http.Cookie{{Name: "AIBOnlineSurvey", Value: "TRUE"}},
	})
	if err != nil {
		return nil, err
	}
	return scrape.Accounts(resp.Body)
}

// Logout signs off and clears the session. Idempotent: safe to call
// from any state, including after a failed transition, and safe to call
// twice.
func (f *Flow) Logout(ctx context.Context) error {
	if f.state.current == StateLoggedOut {
		return nil
	}

	// Best effort; the portal session expires on its own if this fails.
	if f.state.current != StateStart {
		trace.Emit(f.sink, "auth", "signing off")
		if _, err := f.client.Do(ctx, session.Request{
			URL: f.portal.URL(f.portal.Endpoints.Logout),
		}); err != nil {
			trace.EmitErr(f.sink, "auth", "sign-off request failed", err)
		}
	}

	f.state = state{current: StateLoggedOut}
	f.challengeToken = ""
	return f.client.Reset()
}
