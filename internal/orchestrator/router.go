package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/halcyonhq/halcyon/internal/contextstore"
	"github.com/halcyonhq/halcyon/internal/nlp"
	"github.com/halcyonhq/halcyon/internal/registry"
	"github.com/halcyonhq/halcyon/pkg/toolrpc"
)

// confidence below this asks for clarification instead of dispatching.
const defaultConfidenceThreshold = 0.3

// intentServices maps each intent to the service that handles it. Routing
// consults this table, not the capability strings services advertise.
var intentServices = map[string]string{
	"play_music":       "audio",
	"control_volume":   "audio",
	"switch_audio":     "audio",
	"system_control":   "platform",
	"hardware_control": "hardware",
	"smart_home":       "home",
	"communication":    "messaging",
	"navigation":       "navigation",
	"file_operation":   "files",
	"question_answer":  "knowledge",
}

// routeOutcome is what one routing pass produces: the user-facing response,
// the (possibly follow-up-resolved) intent result, and where it went.
type routeOutcome struct {
	response   string
	result     nlp.Result
	service    string
	dispatched bool // intent resolved to a service mapping
	failed     bool // dispatch was attempted or due and did not succeed
}

// route turns an intent result into a response string, dispatching to the
// mapped service when confidence allows. Follow-ups are resolved against the
// session's last turn and re-routed once.
func (o *Orchestrator) route(ctx context.Context, res nlp.Result, sess *contextstore.SessionContext) routeOutcome {
	threshold := defaultConfidenceThreshold
	if o.cfg != nil && o.cfg.NLP.ConfidenceThreshold > 0 {
		threshold = o.cfg.NLP.ConfidenceThreshold
	}

	if res.Intent == "follow_up" {
		if sess == nil || sess.LastIntent == "" {
			return routeOutcome{
				response: "I don't have context for a follow-up. Please be more specific.",
				result:   res,
			}
		}
		merged := make(map[string]string, len(sess.LastParameters)+len(res.Parameters))
		for k, v := range sess.LastParameters {
			merged[k] = v
		}
		for k, v := range res.Parameters {
			merged[k] = v
		}
		res = nlp.Result{
			Intent:       sess.LastIntent,
			Confidence:   0.8,
			Parameters:   merged,
			Text:         res.Text,
			ContextUsed:  true,
			Alternatives: res.Alternatives,
		}
	}

	if res.Intent == nlp.Unknown || res.Confidence < threshold {
		return routeOutcome{response: clarify(res), result: res}
	}

	service, ok := intentServices[res.Intent]
	if !ok {
		return routeOutcome{response: fmt.Sprintf("no service for intent: %s", res.Intent), result: res}
	}

	out := routeOutcome{result: res, service: service, dispatched: true}

	info, registered := o.reg.Get(service)
	if !registered {
		out.response = fmt.Sprintf("Service %s is not registered", service)
		out.failed = true
		return out
	}

	args := make(map[string]any, len(res.Parameters)+2)
	for k, v := range res.Parameters {
		args[k] = v
	}
	if sess != nil {
		args["session_id"] = sess.SessionID
		args["user_id"] = sess.UserID
	}

	start := time.Now()
	var reply string
	err := o.breakers.For(service).Execute(func() error {
		var callErr error
		switch info.Kind {
		case registry.KindHTTP:
			reply, callErr = o.callHTTP(ctx, &info, res.Intent, args)
		default:
			reply, callErr = o.callRPC(ctx, service, res.Intent, args)
		}
		return callErr
	})
	elapsed := time.Since(start)

	if err != nil {
		o.reg.RecordFailure(service, elapsed)
		o.metrics.RecordServiceCall(ctx, service, elapsed.Seconds(), false)
		out.failed = true
		if errors.Is(err, toolrpc.ErrNotConnected) {
			out.response = fmt.Sprintf("Service %s is not connected", service)
		} else {
			out.response = fmt.Sprintf("Error calling service %s: %v", service, err)
		}
		o.log.Warn("service call failed", "service", service, "intent", res.Intent, "err", err)
		return out
	}

	o.reg.RecordSuccess(service, elapsed)
	o.metrics.RecordServiceCall(ctx, service, elapsed.Seconds(), true)
	out.response = reply
	return out
}

// clarify builds the low-confidence reply, naming up to two runner-ups.
func clarify(res nlp.Result) string {
	switch len(res.Alternatives) {
	case 0:
		return "I'm not sure what you meant. Could you rephrase that?"
	case 1:
		return fmt.Sprintf("I'm not sure what you meant. Did you mean %s?", res.Alternatives[0].Intent)
	default:
		return fmt.Sprintf("I'm not sure what you meant. Did you mean %s or %s?",
			res.Alternatives[0].Intent, res.Alternatives[1].Intent)
	}
}

// callRPC dispatches through the service's persistent tool client.
func (o *Orchestrator) callRPC(ctx context.Context, service, intent string, args map[string]any) (string, error) {
	client, ok := o.client(service)
	if !ok || client.State() != toolrpc.StateConnected {
		return "", toolrpc.ErrNotConnected
	}

	result, err := client.CallTool(ctx, intent, args)
	if err != nil {
		return "", err
	}
	if text := result.Text(); text != "" {
		return text, nil
	}
	return "OK", nil
}

// callHTTP posts the arguments to the service's per-intent endpoint and
// pulls the reply out of its JSON body.
func (o *Orchestrator) callHTTP(ctx context.Context, info *registry.ServiceInfo, intent string, args map[string]any) (string, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/%s", info.Endpoint(), intent)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("service returned %s", resp.Status)
	}

	var parsed struct {
		Response string `json:"response"`
	}
	if json.Unmarshal(data, &parsed) == nil && parsed.Response != "" {
		return parsed.Response, nil
	}
	return string(data), nil
}
