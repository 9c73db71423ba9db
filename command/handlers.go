package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-mailauth/core"
)

type MutatingService interface {
	BeginAuthorization(ctx context.Context, req core.BeginAuthRequest) (core.BeginAuthResponse, error)
	CompleteAuthorization(ctx context.Context, req core.CompleteAuthRequest) (core.TokenSet, error)
	Refresh(ctx context.Context, req core.RefreshRequest) (core.TokenSet, error)
	ScheduleRefresh(ctx context.Context, req core.RefreshRequest) error
	Revoke(ctx context.Context, accountID string, reason string) error
}

type BeginAuthorizationCommand struct {
	service MutatingService
}

func NewBeginAuthorizationCommand(service MutatingService) *BeginAuthorizationCommand {
	return &BeginAuthorizationCommand{service: service}
}

func (c *BeginAuthorizationCommand) Execute(ctx context.Context, msg BeginAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: begin authorization service is required")
	}
	out, err := c.service.BeginAuthorization(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteAuthorizationCommand struct {
	service MutatingService
}

func NewCompleteAuthorizationCommand(service MutatingService) *CompleteAuthorizationCommand {
	return &CompleteAuthorizationCommand{service: service}
}

func (c *CompleteAuthorizationCommand) Execute(ctx context.Context, msg CompleteAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: complete authorization service is required")
	}
	out, err := c.service.CompleteAuthorization(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshCommand struct {
	service MutatingService
}

func NewRefreshCommand(service MutatingService) *RefreshCommand {
	return &RefreshCommand{service: service}
}

func (c *RefreshCommand) Execute(ctx context.Context, msg RefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	out, err := c.service.Refresh(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ScheduleRefreshCommand struct {
	service MutatingService
}

func NewScheduleRefreshCommand(service MutatingService) *ScheduleRefreshCommand {
	return &ScheduleRefreshCommand{service: service}
}

func (c *ScheduleRefreshCommand) Execute(ctx context.Context, msg ScheduleRefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: schedule refresh service is required")
	}
	return c.service.ScheduleRefresh(ctx, msg.Request)
}

type RevokeCommand struct {
	service MutatingService
}

func NewRevokeCommand(service MutatingService) *RevokeCommand {
	return &RevokeCommand{service: service}
}

func (c *RevokeCommand) Execute(ctx context.Context, msg RevokeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: revoke service is required")
	}
	return c.service.Revoke(ctx, msg.AccountID, msg.Reason)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
