package controller

import (
	"errors"
	"net/http"

	"go-leadchat/internal/pkg/auth"
	chat "go-leadchat/internal/pkg/chat/application/domain"
	"go-leadchat/internal/pkg/chat/application/session"
	"go-leadchat/internal/pkg/chat/application/usecase"
	"go-leadchat/internal/pkg/chat/protocol"
)

// classify maps an error from the chat layers to a wire kind, an HTTP status and
// a detail safe to show to the user.
func classify(err error) (kind string, status int, detail string) {
	switch {
	case errors.Is(err, auth.ErrAuthenticationFailed):
		return protocol.KindAuthenticationFailed, http.StatusUnauthorized, "credential could not be resolved to a user"
	case errors.Is(err, chat.ErrNotParticipant):
		return protocol.KindNotAParticipant, http.StatusForbidden, "user is not a participant in this conversation"
	case errors.Is(err, chat.ErrConversationMissing):
		return protocol.KindNotAParticipant, http.StatusNotFound, "conversation not found"
	case errors.Is(err, chat.ErrEmptyMessage):
		return protocol.KindEmptyMessage, http.StatusBadRequest, "message content is empty"
	case errors.Is(err, usecase.ErrPersistenceTimeout):
		return protocol.KindStoreTimeout, http.StatusGatewayTimeout, "message store did not respond in time"
	case errors.Is(err, usecase.ErrPersistence):
		return protocol.KindStoreUnavailable, http.StatusServiceUnavailable, "message store unavailable"
	case errors.Is(err, session.ErrClosedHandle):
		return protocol.KindNotConnected, http.StatusConflict, "connection is not open"
	case errors.Is(err, protocol.ErrProtocol),
		errors.Is(err, usecase.ErrInvalidInput),
		errors.Is(err, chat.ErrInvalidConversation):
		return protocol.KindProtocolError, http.StatusBadRequest, err.Error()
	}
	return protocol.KindStoreUnavailable, http.StatusInternalServerError, "unexpected error"
}
