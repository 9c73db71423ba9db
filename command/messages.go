package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-mailauth/core"
)

const (
	TypeBeginAuthorization    = "mailauth.command.auth.begin"
	TypeCompleteAuthorization = "mailauth.command.auth.complete"
	TypeRefresh               = "mailauth.command.refresh"
	TypeScheduleRefresh       = "mailauth.command.refresh.schedule"
	TypeRevoke                = "mailauth.command.revoke"
)

type BeginAuthorizationMessage struct {
	Request core.BeginAuthRequest
}

func (BeginAuthorizationMessage) Type() string { return TypeBeginAuthorization }

func (m BeginAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Request.AccountID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	return nil
}

type CompleteAuthorizationMessage struct {
	Request core.CompleteAuthRequest
}

func (CompleteAuthorizationMessage) Type() string { return TypeCompleteAuthorization }

func (m CompleteAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Request.AccountID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	if strings.TrimSpace(m.Request.State) == "" {
		return commandValidationError("state", "callback state is required")
	}
	return nil
}

type RefreshMessage struct {
	Request core.RefreshRequest
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	if strings.TrimSpace(m.Request.AccountID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	return nil
}

type ScheduleRefreshMessage struct {
	Request core.RefreshRequest
}

func (ScheduleRefreshMessage) Type() string { return TypeScheduleRefresh }

func (m ScheduleRefreshMessage) Validate() error {
	if strings.TrimSpace(m.Request.AccountID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	return nil
}

type RevokeMessage struct {
	AccountID string
	Reason    string
}

func (RevokeMessage) Type() string { return TypeRevoke }

func (m RevokeMessage) Validate() error {
	if strings.TrimSpace(m.AccountID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	return nil
}
