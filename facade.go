package mailauth

import (
	"fmt"

	mailauthcommand "github.com/goliatone/go-mailauth/command"
)

// Commands groups the go-command handlers bound to one service instance.
type Commands struct {
	BeginAuthorization    *mailauthcommand.BeginAuthorizationCommand
	CompleteAuthorization *mailauthcommand.CompleteAuthorizationCommand
	Refresh               *mailauthcommand.RefreshCommand
	ScheduleRefresh       *mailauthcommand.ScheduleRefreshCommand
	Revoke                *mailauthcommand.RevokeCommand
}

type Facade struct {
	service  mailauthcommand.MutatingService
	commands Commands
}

func NewFacade(service mailauthcommand.MutatingService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("mailauth: service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			BeginAuthorization:    mailauthcommand.NewBeginAuthorizationCommand(service),
			CompleteAuthorization: mailauthcommand.NewCompleteAuthorizationCommand(service),
			Refresh:               mailauthcommand.NewRefreshCommand(service),
			ScheduleRefresh:       mailauthcommand.NewScheduleRefreshCommand(service),
			Revoke:                mailauthcommand.NewRevokeCommand(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Service() mailauthcommand.MutatingService {
	if f == nil {
		return nil
	}
	return f.service
}
