package sync

import (
	"context"
	"encoding/json"
	"path"
	"regexp"
	"strings"

	"github.com/SpheneDev/SpheneServer/logger"
	"github.com/SpheneDev/SpheneServer/module/sync/model"
	"github.com/SpheneDev/SpheneServer/service/dispatcher/kafka"
	"github.com/SpheneDev/SpheneServer/service/notify"
	"github.com/SpheneDev/SpheneServer/tools/errs"
)

var (
	gamePathRegex = regexp.MustCompile(`(?i)^([a-z0-9_ '+&,.\-{}]+/)+([a-z0-9_ '+&,.\-{}]+\.[a-z]{3,4})$`)
	hashRegex     = regexp.MustCompile(`(?i)^[a-z0-9]{40}$`)
)

// extensions the client is allowed to replace; anything else gets the
// whole push rejected
var allowedExtensions = map[string]struct{}{
	".mdl": {}, ".tex": {}, ".mtrl": {}, ".tmb": {}, ".pap": {}, ".avfx": {},
	".atex": {}, ".sklb": {}, ".eid": {}, ".phyb": {}, ".pbd": {}, ".scd": {},
	".skp": {}, ".shpk": {},
}

// FileReplacement maps one content hash to the game paths it replaces.
type FileReplacement struct {
	Hash      string   `json:"hash"`
	GamePaths []string `json:"gamePaths"`
}

// PushRequest is a character data fan-out: the opaque payload plus the
// file manifest, addressed to the recipients the client currently
// sees.
type PushRequest struct {
	Recipients       []string          `json:"recipients"`
	DataHash         string            `json:"dataHash"`
	CharaData        json.RawMessage   `json:"charaData"`
	FileReplacements []FileReplacement `json:"fileReplacements"`
}

// PushResult reports what actually went out.
type PushResult struct {
	SessionID string   `json:"sessionId"`
	SentTo    []string `json:"sentTo"`
}

// validatePush rejects the whole request when any file replacement is
// malformed. Partial acceptance would leave recipients with an
// inconsistent file set.
func validatePush(req *PushRequest) error {
	for _, fr := range req.FileReplacements {
		if !hashRegex.MatchString(fr.Hash) {
			return errs.ErrDataRejected.WithDetail("invalid hash " + fr.Hash)
		}
		for _, gp := range fr.GamePaths {
			if !gamePathRegex.MatchString(gp) {
				return errs.ErrDataRejected.WithDetail("invalid game path " + gp)
			}
			ext := strings.ToLower(path.Ext(gp))
			if _, ok := allowedExtensions[ext]; !ok {
				return errs.ErrDataRejected.WithDetail("forbidden extension " + ext)
			}
		}
	}
	return nil
}

// PushData validates a push, narrows the recipient list to peers that
// are synced with the sender and currently connected, opens an
// acknowledgment session over them and fans the payload out. File
// availability goes to the dispatcher per recipient.
func (s *Service) PushData(ctx context.Context, self *model.User, req PushRequest) (*PushResult, error) {
	if err := validatePush(&req); err != nil {
		return nil, err
	}

	var eligible []string
	for _, uid := range req.Recipients {
		if uid == self.UID {
			continue
		}
		info, err := s.graph.PairInfo(ctx, self.UID, uid)
		if err != nil {
			return nil, err
		}
		if !info.Synced() {
			continue
		}
		eligible = append(eligible, uid)
	}

	handles, err := s.presence.LookupMany(ctx, eligible)
	if err != nil {
		return nil, err
	}
	online := make([]string, 0, len(handles))
	for _, uid := range eligible {
		if _, ok := handles[uid]; ok {
			online = append(online, uid)
		}
	}

	if len(online) == 0 {
		// nobody received anything, so there is nothing to acknowledge
		return &PushResult{SentTo: []string{}}, nil
	}

	sessionID := s.acks.CreateSession(req.DataHash, self.UID, online)

	hashes := make([]string, 0, len(req.FileReplacements))
	for _, fr := range req.FileReplacements {
		hashes = append(hashes, fr.Hash)
	}

	for _, uid := range online {
		s.notifyUser(ctx, uid, notify.Envelope{
			Kind: notify.KindData,
			Payload: notify.DataPayload{
				User:      self.Ref(),
				SessionID: sessionID,
				DataHash:  req.DataHash,
				CharaData: req.CharaData,
			},
		})
		if len(hashes) == 0 {
			continue
		}
		ev := kafka.FileAvailableEvent{
			RecipientUID: uid,
			SenderUID:    self.UID,
			SessionID:    sessionID,
			Hashes:       hashes,
		}
		if err := s.files.NotifyFileAvailable(ev); err != nil {
			logger.Warnf("[sync] file event for %s: %v", uid, err)
		}
	}

	return &PushResult{SessionID: sessionID, SentTo: online}, nil
}

// AckRequest acknowledges receipt of a push, either by session id or,
// for older clients, by the payload fingerprint alone.
type AckRequest struct {
	SessionID   string `json:"sessionId,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// AckData forwards delivery confirmation to the sender. Unknown or
// duplicate acknowledgments are silent no-ops: the session may have
// been completed, swept, or never existed, and none of that is the
// recipient's problem.
func (s *Service) AckData(ctx context.Context, self *model.User, req AckRequest) error {
	if req.SessionID != "" {
		return s.ackSession(ctx, self, req.SessionID)
	}
	if req.Fingerprint != "" {
		return s.ackLegacy(ctx, self, req.Fingerprint)
	}
	return nil
}

func (s *Service) ackSession(ctx context.Context, self *model.User, sessionID string) error {
	session, ok := s.acks.Acknowledge(sessionID, self.UID)
	if !ok {
		return nil
	}
	paired, err := s.store.AnyPair(ctx, self.UID, session.SenderUID)
	if err != nil {
		return err
	}
	shared, err := s.store.ListSharedGroups(ctx, self.UID, session.SenderUID)
	if err != nil {
		return err
	}
	if !paired && len(shared) == 0 {
		// relationship dissolved mid-flight; nothing to report
		return nil
	}

	complete := s.acks.IsComplete(sessionID)
	if complete {
		s.acks.Complete(sessionID)
	}
	s.notifyUser(ctx, session.SenderUID, notify.Envelope{
		Kind: notify.KindAck,
		Payload: notify.AckPayload{
			SessionID: sessionID,
			User:      self.Ref(),
			Complete:  complete,
		},
	})
	return nil
}

func (s *Service) ackLegacy(ctx context.Context, self *model.User, fingerprint string) error {
	// claim before any validation so a duplicate cannot deliver twice
	senderUID, ok := s.acks.ClaimLegacy(fingerprint)
	if !ok {
		return nil
	}
	paired, err := s.store.AnyPair(ctx, self.UID, senderUID)
	if err != nil {
		return err
	}
	if !paired {
		return nil
	}
	s.notifyUser(ctx, senderUID, notify.Envelope{
		Kind: notify.KindAck,
		Payload: notify.AckPayload{
			Fingerprint: fingerprint,
			User:        self.Ref(),
			Complete:    true,
		},
	})
	return nil
}
