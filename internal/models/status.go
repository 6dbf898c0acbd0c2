package models

// BookingStatus is the lifecycle state of a booking. Status only moves
// forward along the transition table; completed and cancelled are terminal.
type BookingStatus string

const (
	StatusPending    BookingStatus = "pending"
	StatusAccepted   BookingStatus = "accepted"
	StatusArrived    BookingStatus = "arrived"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
)

// Actor identifies which side of a trip is attempting a transition.
type Actor string

const (
	ActorRequester Actor = "requester"
	ActorWorker    Actor = "worker"
)

type transition struct {
	from BookingStatus
	to   BookingStatus
}

// transitions maps each legal state change to the actors allowed to make it.
var transitions = map[transition][]Actor{
	{StatusPending, StatusAccepted}:     {ActorWorker},
	{StatusPending, StatusCancelled}:    {ActorRequester, ActorWorker},
	{StatusAccepted, StatusArrived}:     {ActorWorker},
	{StatusArrived, StatusInProgress}:   {ActorWorker},
	{StatusInProgress, StatusCompleted}: {ActorWorker},
}

// CanTransition reports whether actor may move a booking from one status to
// another. Anything not in the table is rejected.
func CanTransition(actor Actor, from, to BookingStatus) bool {
	for _, a := range transitions[transition{from, to}] {
		if a == actor {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions can leave s.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusArrived, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
