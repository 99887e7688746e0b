package siptrunk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/dialcast/dialcast/internal/provider"
)

// checkTimeout is the max time to wait for an OPTIONS response.
const checkTimeout = 5 * time.Second

// Checker verifies trunk reachability with a SIP OPTIONS ping before a
// call is routed through it. Trunks that challenge OPTIONS are answered
// with digest credentials from the trunk config.
type Checker struct {
	ua     *sipgo.UserAgent
	logger *slog.Logger
}

// NewChecker creates a trunk health checker with its own SIP user agent.
func NewChecker(logger *slog.Logger) (*Checker, error) {
	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("creating sip user agent: %w", err)
	}
	return &Checker{
		ua:     ua,
		logger: logger.With("subsystem", "trunk-health"),
	}, nil
}

// Close releases the underlying SIP user agent.
func (c *Checker) Close() {
	c.ua.Close()
}

// Check sends a one-shot OPTIONS ping to the trunk and returns an error if
// the trunk is unreachable or responds with a non-2xx status.
func (c *Checker) Check(ctx context.Context, route provider.TrunkRoute) error {
	client, err := sipgo.NewClient(c.ua,
		sipgo.WithClientLogger(c.logger.With("trunk_host", route.Host)),
	)
	if err != nil {
		return fmt.Errorf("creating sip client: %w", err)
	}
	defer client.Close()

	recipientStr := fmt.Sprintf("sip:%s:%d", route.Host, route.Port)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return fmt.Errorf("parsing recipient uri: %w", err)
	}

	req := sip.NewRequest(sip.OPTIONS, recipient)
	req.SetTransport(strings.ToUpper(route.Transport))

	pingCtx, pingCancel := context.WithTimeout(ctx, checkTimeout)
	defer pingCancel()

	tx, err := client.TransactionRequest(pingCtx, req, sipgo.ClientRequestBuild)
	if err != nil {
		return fmt.Errorf("sending options: %w", err)
	}

	res, err := getResponse(pingCtx, tx)
	tx.Terminate()
	if err != nil {
		return fmt.Errorf("waiting for options response: %w", err)
	}

	// Answer a digest challenge with the trunk credentials.
	if res.StatusCode == 401 || res.StatusCode == 407 {
		res, err = c.answerChallenge(pingCtx, client, req, res, route, recipientStr)
		if err != nil {
			return err
		}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("options ping returned status %d %s", res.StatusCode, res.Reason)
	}

	return nil
}

// answerChallenge re-sends the request with digest credentials computed
// from the WWW-Authenticate (or Proxy-Authenticate) challenge.
func (c *Checker) answerChallenge(ctx context.Context, client *sipgo.Client, req *sip.Request, res *sip.Response, route provider.TrunkRoute, uri string) (*sip.Response, error) {
	authHeader := "WWW-Authenticate"
	authzHeader := "Authorization"
	if res.StatusCode == 407 {
		authHeader = "Proxy-Authenticate"
		authzHeader = "Proxy-Authorization"
	}

	challenge := res.GetHeader(authHeader)
	if challenge == nil {
		return nil, fmt.Errorf("received %d but no %s header", res.StatusCode, authHeader)
	}

	chal, err := digest.ParseChallenge(challenge.Value())
	if err != nil {
		return nil, fmt.Errorf("parsing auth challenge: %w", err)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      uri,
		Username: route.Username,
		Password: route.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("computing digest: %w", err)
	}

	authReq := req.Clone()
	authReq.RemoveHeader("Via")
	authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))

	tx, err := client.TransactionRequest(ctx, authReq,
		sipgo.ClientRequestIncreaseCSEQ,
		sipgo.ClientRequestAddVia,
	)
	if err != nil {
		return nil, fmt.Errorf("sending authenticated options: %w", err)
	}
	defer tx.Terminate()

	return getResponse(ctx, tx)
}

// getResponse waits for the first response from a SIP client transaction.
func getResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tx.Done():
		return nil, fmt.Errorf("transaction terminated: %w", tx.Err())
	case res := <-tx.Responses():
		return res, nil
	}
}

// Ensure Checker satisfies the provider health-check interface.
var _ provider.TrunkHealthChecker = (*Checker)(nil)
