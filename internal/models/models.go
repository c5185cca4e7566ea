package models

import "context"

// LaunchEvent is one Launch.NewLaunch record: (sender, robot, param).
type LaunchEvent struct {
	Sender string
	Robot  string
	Param  [32]byte
}

type TicketRequest struct {
	Email       string
	AddressFrom string // Robonomics address of the user who sent the launch
	Phone       string
	Description string
}

// TicketID is whatever the helpdesk returns; zero is invalid.
type TicketID int64

// JobRequest is one handling unit submitted to the worker pool.
type JobRequest struct {
	ID   string
	Name string
	Run  func(ctx context.Context) error
}
