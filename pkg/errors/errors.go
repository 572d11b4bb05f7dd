// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeConnConnectFailure    Code = "conn.connect.failure"
	CodeConnHandshakeFailure  Code = "conn.handshake.failure"
	CodeConnRetryExhausted    Code = "conn.retry.exhausted"
	CodeConnCommandTimeout    Code = "conn.command.timeout"
	CodeConnCommandCanceled   Code = "conn.command.canceled"
	CodeConnSocketClosed      Code = "conn.socket.closed"
	CodeConnNotConnected      Code = "conn.state.unavailable"
	CodeConnNavigateFailure   Code = "conn.navigate.failure"
	CodeConnNavigateTimeout   Code = "conn.navigate.timeout"
	CodeConnCapabilityInvalid Code = "conn.capability.failure"
	CodeConnStateClosed       Code = "conn.state.closed"

	CodeCDPCommandProtocol Code = "cdp.command.protocol"
	CodeCDPFrameInvalid    Code = "cdp.frame.invalid_format"

	CodePoolAcquireTimeout Code = "pool.acquire.timeout"
	CodePoolAcquireClosed  Code = "pool.acquire.closed"
	CodePoolAcquireCancel  Code = "pool.acquire.canceled"
	CodePoolCreateFailure  Code = "pool.create.failure"
	CodePoolHandleNotFound Code = "pool.handle.not_found"

	CodeBalancerQueueFull       Code = "balancer.queue.exhausted"
	CodeBalancerQueueTimeout    Code = "balancer.queue.timeout"
	CodeBalancerQueueCanceled   Code = "balancer.queue.canceled"
	CodeBalancerClosed          Code = "balancer.state.closed"
	CodeBalancerEndpointUnknown Code = "balancer.endpoint.not_found"
	CodeBalancerEndpointExists  Code = "balancer.endpoint.conflict"

	CodeRegionNotFound       Code = "region.lookup.not_found"
	CodeRegionExists         Code = "region.add.conflict"
	CodeRegionAllUnavailable Code = "region.select.unavailable"

	CodeHealthWaitTimeout   Code = "health.wait.timeout"
	CodeHealthProbeFailure  Code = "health.probe.failure"
	CodeHealthProbeTimeout  Code = "health.probe.timeout"
	CodeHealthNoReports     Code = "health.report.not_found"
	CodeHealthEndpointState Code = "health.endpoint.unavailable"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerEntityNotFound  Code = "server.entity.not_found"
	CodeServerConfigInvalid   Code = "server.config.invalid"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"

	CodeCLIGatewayNotRunning Code = "cli.gateway.not_running"
	CodeCLIRequestFailure    Code = "cli.request.failure"
	CodeCLIResponseInvalid   Code = "cli.response.invalid"
	CodeCLISetupFailure      Code = "cli.setup.failure"
)

// Attr is one key/value pair of error context.
type Attr struct {
	Key   string
	Value any
}

// Field builds an Attr.
func Field(key string, value any) Attr { return Attr{Key: key, Value: value} }

func FieldEndpoint(url string) Attr { return Field("endpoint", url) }

func FieldRegion(name string) Attr { return Field("region", name) }

func FieldMethod(method string) Attr { return Field("method", method) }

func FieldConnID(id string) Attr { return Field("conn_id", id) }

func FieldAttempt(n int) Attr { return Field("attempt", n) }

func builder(code Code, fields []Attr) oops.OopsErrorBuilder {
	b := oops.Code(code)
	for _, f := range fields {
		if f.Key != "" {
			b = b.With(f.Key, f.Value)
		}
	}
	return b
}

// New creates an error carrying code and the given fields.
func New(code Code, msg string, fields ...Attr) error {
	return builder(code, fields).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

// Wrap annotates err with code and msg. A nil err stays nil.
func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return builder(code, fields).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// With attaches fields to err and keeps its code, or
// server.internal.failure when it has none.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}
	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}
	return builder(code, fields).Wrap(err)
}

// CodeOf returns the outermost code in err's chain, or "" for plain errors.
func CodeOf(err error) Code {
	oe, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch c := oe.Code().(type) {
	case Code:
		return c
	case string:
		return Code(c)
	case nil:
		return ""
	default:
		return Code(fmt.Sprint(c))
	}
}

// FieldsOf returns the context attached along err's chain.
func FieldsOf(err error) map[string]any {
	if oe, ok := oops.AsOops(err); ok {
		return oe.Context()
	}
	return nil
}

func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Reason is the last dotted segment of err's code.
func Reason(err error) string {
	code := string(CodeOf(err))
	if i := strings.LastIndexByte(code, '.'); i >= 0 && i < len(code)-1 {
		return code[i+1:]
	}
	return code
}

func IsNotFound(err error) bool { return Reason(err) == "not_found" }

func IsConflict(err error) bool { return Reason(err) == "conflict" }

func IsInvalidInput(err error) bool {
	switch Reason(err) {
	case "invalid", "invalid_input", "invalid_value", "invalid_format":
		return true
	}
	return false
}

func IsTimeout(err error) bool { return Reason(err) == "timeout" }

// IsExhausted reports resource exhaustion: a full queue or a retry budget
// that ran out.
func IsExhausted(err error) bool { return Reason(err) == "exhausted" }

func IsClosed(err error) bool { return Reason(err) == "closed" }

func IsUnavailable(err error) bool { return Reason(err) == "unavailable" }

// IsProtocol reports an application-level error returned by the remote
// browser inside a well-formed response.
func IsProtocol(err error) bool { return Reason(err) == "protocol" }

// IsTransient reports failures the connection layer retries locally.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeConnConnectFailure, CodeConnHandshakeFailure, CodeConnCommandTimeout,
		CodeConnSocketClosed, CodeConnNotConnected, CodeConnNavigateTimeout, CodeConnCapabilityInvalid:
		return true
	default:
		return false
	}
}

// IsUpstreamFailure reports a connection-layer failure talking to a browser.
func IsUpstreamFailure(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "conn.") && Reason(err) == "failure"
}

var statusByReason = map[string]int{
	"not_found":   http.StatusNotFound,
	"conflict":    http.StatusConflict,
	"exhausted":   http.StatusTooManyRequests,
	"timeout":     http.StatusGatewayTimeout,
	"unavailable": http.StatusServiceUnavailable,
	"closed":      http.StatusServiceUnavailable,
	"protocol":    http.StatusBadGateway,
}

// HTTPStatus maps err's code onto the status the ops API answers with.
func HTTPStatus(err error) int {
	if IsInvalidInput(err) {
		return http.StatusBadRequest
	}
	if status, ok := statusByReason[Reason(err)]; ok {
		return status
	}
	if IsUpstreamFailure(err) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Join combines errs into one server.internal.failure error.
func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}
