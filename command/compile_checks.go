package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[BeginAuthorizationMessage]    = (*BeginAuthorizationCommand)(nil)
	_ gocmd.Commander[CompleteAuthorizationMessage] = (*CompleteAuthorizationCommand)(nil)
	_ gocmd.Commander[RefreshMessage]               = (*RefreshCommand)(nil)
	_ gocmd.Commander[ScheduleRefreshMessage]       = (*ScheduleRefreshCommand)(nil)
	_ gocmd.Commander[RevokeMessage]                = (*RevokeCommand)(nil)
)
