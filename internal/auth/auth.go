package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type Permission string

const (
	HandlePayments Permission = "HANDLE_PAYMENTS"
	ManageOrders   Permission = "MANAGE_ORDERS"
)

type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorApp    ActorKind = "app"
	ActorSystem ActorKind = "system"
)

// Actor is whoever calls into the service: a staff user, a payment app, or the service itself.
type Actor struct {
	Kind        ActorKind
	ID          uuid.UUID
	Permissions []Permission
}

func User(id uuid.UUID, perms ...Permission) Actor {
	return Actor{Kind: ActorUser, ID: id, Permissions: perms}
}

func App(id uuid.UUID, perms ...Permission) Actor {
	return Actor{Kind: ActorApp, ID: id, Permissions: perms}
}

// System is used by background jobs. It holds every permission.
func System() Actor {
	return Actor{Kind: ActorSystem}
}

func (a Actor) UserID() uuid.NullUUID {
	if a.Kind != ActorUser {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: a.ID, Valid: true}
}

func (a Actor) AppID() uuid.NullUUID {
	if a.Kind != ActorApp {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: a.ID, Valid: true}
}

// Owns reports whether the actor is the recorded owner (user or app) of a resource.
func (a Actor) Owns(userID, appID uuid.NullUUID) bool {
	switch a.Kind {
	case ActorUser:
		return userID.Valid && userID.UUID == a.ID
	case ActorApp:
		return appID.Valid && appID.UUID == a.ID
	}
	return false
}

type PermissionChecker interface {
	HasPermissions(actor Actor, perms ...Permission) bool
}

// GrantedChecker trusts the permissions carried by the actor.
type GrantedChecker struct{}

func (GrantedChecker) HasPermissions(actor Actor, perms ...Permission) bool {
	if actor.Kind == ActorSystem {
		return true
	}
	for _, p := range perms {
		found := false
		for _, have := range actor.Permissions {
			if have == p {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Header names read by HeaderResolver.
const (
	HeaderUserID      = "X-User-ID"
	HeaderAppID       = "X-App-ID"
	HeaderPermissions = "X-Permissions"
)

var (
	ErrNoActor        = errors.New("auth: no actor in request")
	ErrAmbiguousActor = errors.New("auth: both user and app supplied")
	ErrBadActorID     = errors.New("auth: malformed actor id")
)

type ActorResolver interface {
	Resolve(h http.Header) (Actor, error)
}

// HeaderResolver builds the actor from headers set by the authenticating gateway in front of the service.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(h http.Header) (Actor, error) {
	userRaw := strings.TrimSpace(h.Get(HeaderUserID))
	appRaw := strings.TrimSpace(h.Get(HeaderAppID))
	if userRaw != "" && appRaw != "" {
		return Actor{}, ErrAmbiguousActor
	}
	if userRaw == "" && appRaw == "" {
		return Actor{}, ErrNoActor
	}

	var perms []Permission
	for _, p := range strings.Split(h.Get(HeaderPermissions), ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			perms = append(perms, Permission(p))
		}
	}

	raw, kind := userRaw, ActorUser
	if appRaw != "" {
		raw, kind = appRaw, ActorApp
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return Actor{}, ErrBadActorID
	}
	return Actor{Kind: kind, ID: id, Permissions: perms}, nil
}
