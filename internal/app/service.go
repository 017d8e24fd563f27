package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"papyrus/api/internal/access"
	"papyrus/api/internal/blob"
	"papyrus/api/internal/store"
	"papyrus/api/internal/treepath"
	"papyrus/api/internal/util"
)

// Identity is the caller as asserted by the front-gate proxy. Anonymous
// callers carry an empty UserID and Authenticated=false; they can only reach
// documents through a public link.
type Identity struct {
	UserID         string
	Email          string
	Language       string
	Authenticated  bool
	ServiceAccount bool
}

type Document struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Content   string           `json:"content,omitempty"`
	Kind      string           `json:"kind"`
	CreatorID string           `json:"creator_id,omitempty"`
	Depth     int              `json:"depth"`
	LinkReach string           `json:"link_reach"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	DeletedAt *time.Time       `json:"deleted_at,omitempty"`
	Abilities access.Abilities `json:"abilities"`
}

type CreateDocumentInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Kind    string `json:"kind"`
}

type UpdateDocumentInput struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

type MoveInput struct {
	TargetID string `json:"target_id"`
	Position string `json:"position"`
}

type GrantInput struct {
	Email  string `json:"email"`
	TeamID string `json:"team_id"`
	Role   string `json:"role"`
}

type AccessEntry struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"document_id"`
	UserID    string    `json:"user_id,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	TeamID    string    `json:"team_id,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type dataStore interface {
	GetNode(context.Context, string) (store.Node, error)
	AncestorsOf(context.Context, string) ([]store.Node, error)
	ChildrenOf(context.Context, string) ([]store.Node, error)
	CountDescendants(context.Context, string) (int, error)
	CreateRoot(context.Context, store.Node, string) (store.Node, error)
	CreateChild(context.Context, string, store.Node, string) (store.Node, error)
	UpdateNodeContent(context.Context, string, string, string) error
	UpdateLinkReach(context.Context, string, string) error
	SoftDeleteNode(context.Context, string, time.Time) error
	RestoreNode(context.Context, string) error
	PurgeExpired(context.Context, time.Time) (int, error)
	MoveNode(context.Context, string, string, treepath.Position) error
	RolesOn(context.Context, string, string) ([]string, error)
	MinGrantedAt(context.Context, string, string) (*time.Time, error)
	ListVisibleNodes(context.Context, string) ([]store.Node, error)
	TrashbinNodes(context.Context, string, time.Time) ([]store.Node, error)
	ListFavoriteNodes(context.Context, string) ([]store.Node, error)
	ListAccesses(context.Context, string) ([]store.Access, error)
	GetAccess(context.Context, string) (store.Access, error)
	CreateAccess(context.Context, store.Access) (store.Access, error)
	UpdateAccessRole(context.Context, string, string) error
	DeleteAccess(context.Context, string) error
	CountOwnerAccesses(context.Context, string) (int, error)
	EnsureUser(context.Context, string, string, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	EnsureLinkTrace(context.Context, string, string) error
	MarkFavorite(context.Context, string, string) (bool, error)
	UnmarkFavorite(context.Context, string, string) (bool, error)
	Ping(context.Context) error
}

type objectStore interface {
	ListVersions(context.Context, string) ([]blob.Version, error)
	StatVersion(context.Context, string, string) (blob.Version, error)
	DeleteVersion(context.Context, string, string) error
	PresignVersion(context.Context, string, string, time.Duration) (string, error)
	PresignMedia(context.Context, string, time.Duration) (blob.MediaAuth, error)
}

type collabClient interface {
	Token(userID, documentID string, canEdit bool) (string, error)
	ResetConnections(context.Context, string) error
}

type mailer interface {
	IsConfigured() bool
	SendInvitation(ctx context.Context, to, inviter, role, language string) error
}

type aiClient interface {
	Transform(ctx context.Context, text, action string) (string, error)
	Translate(ctx context.Context, text, language string) (string, error)
}

type limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

const (
	mailTimeout   = 10 * time.Second
	collabTimeout = 5 * time.Second
)

type Options struct {
	TrashbinCutoff  time.Duration
	AIDocumentLimit int
	AIUserLimit     int
	AIWindow        time.Duration
	PresignTTL      time.Duration
}

type Service struct {
	store  dataStore
	blobs  objectStore
	collab collabClient
	mail   mailer
	ai     aiClient
	limits limiter
	logger *slog.Logger
	opts   Options

	now func() time.Time
}

func New(st dataStore, blobs objectStore, collab collabClient, mail mailer, ai aiClient, limits limiter, logger *slog.Logger, opts Options) *Service {
	if opts.TrashbinCutoff <= 0 {
		opts.TrashbinCutoff = 30 * 24 * time.Hour
	}
	if opts.AIWindow <= 0 {
		opts.AIWindow = time.Minute
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	return &Service{
		store:  st,
		blobs:  blobs,
		collab: collab,
		mail:   mail,
		ai:     ai,
		limits: limits,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// resolveAccess aggregates the caller's roles over the node and its
// ancestors and derives the ability set from roles plus the node's link
// reach. Anonymous callers never hold roles.
func (s *Service) resolveAccess(ctx context.Context, user Identity, node store.Node) ([]access.Role, access.Abilities, error) {
	var roles []access.Role
	if user.Authenticated {
		names, err := s.store.RolesOn(ctx, user.UserID, node.Path)
		if err != nil {
			return nil, access.Abilities{}, err
		}
		for _, name := range names {
			roles = append(roles, access.Normalize(name))
		}
	}
	abilities := access.Compute(roles, access.LinkReach(node.LinkReach), user.Authenticated)
	return roles, abilities, nil
}

// visibleNode loads a node and checks the caller can retrieve it. A node the
// caller cannot see at all answers NotFound, never Forbidden. Soft-deleted
// nodes are only visible to callers who could restore them.
func (s *Service) visibleNode(ctx context.Context, user Identity, nodeID string) (store.Node, access.Abilities, error) {
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return store.Node{}, access.Abilities{}, mapStoreErr(err)
	}
	_, abilities, err := s.resolveAccess(ctx, user, node)
	if err != nil {
		return store.Node{}, access.Abilities{}, err
	}
	if !abilities.Retrieve {
		return store.Node{}, access.Abilities{}, errNotFound()
	}
	if node.AncestorsDeletedAt != nil && !abilities.Restore {
		return store.Node{}, access.Abilities{}, errNotFound()
	}
	return node, abilities, nil
}

func (s *Service) toDocument(node store.Node, abilities access.Abilities) Document {
	return Document{
		ID:        node.ID,
		Title:     node.Title,
		Content:   node.Content,
		Kind:      node.Kind,
		CreatorID: node.CreatorID,
		Depth:     treepath.Default().Depth(node.Path),
		LinkReach: node.LinkReach,
		CreatedAt: node.CreatedAt,
		UpdatedAt: node.UpdatedAt,
		DeletedAt: node.DeletedAt,
		Abilities: abilities,
	}
}

// CreateDocument creates a top-level document owned by the caller.
func (s *Service) CreateDocument(ctx context.Context, user Identity, input CreateDocumentInput) (Document, error) {
	if !user.Authenticated {
		return Document{}, errUnauthorized()
	}
	node, err := s.newNode(user, input)
	if err != nil {
		return Document{}, err
	}
	created, err := s.store.CreateRoot(ctx, node, user.UserID)
	if err != nil {
		return Document{}, mapStoreErr(err)
	}
	s.logger.Info("document created", "document_id", created.ID, "user_id", user.UserID)
	return s.toDocument(created, access.Compute([]access.Role{access.RoleOwner}, access.LinkReach(created.LinkReach), true)), nil
}

// CreateChildDocument creates a document under parentID. The caller needs
// the update ability on the parent and becomes owner of the child.
func (s *Service) CreateChildDocument(ctx context.Context, user Identity, parentID string, input CreateDocumentInput) (Document, error) {
	if !user.Authenticated {
		return Document{}, errUnauthorized()
	}
	parent, abilities, err := s.visibleNode(ctx, user, parentID)
	if err != nil {
		return Document{}, err
	}
	if !abilities.Update {
		return Document{}, errForbidden()
	}
	node, err := s.newNode(user, input)
	if err != nil {
		return Document{}, err
	}
	created, err := s.store.CreateChild(ctx, parent.ID, node, user.UserID)
	if err != nil {
		return Document{}, mapStoreErr(err)
	}
	s.logger.Info("document created", "document_id", created.ID, "parent_id", parent.ID, "user_id", user.UserID)
	return s.toDocument(created, access.Compute([]access.Role{access.RoleOwner}, access.LinkReach(created.LinkReach), true)), nil
}

func (s *Service) newNode(user Identity, input CreateDocumentInput) (store.Node, error) {
	kind := input.Kind
	if kind == "" {
		kind = store.KindDocument
	}
	if kind != store.KindDocument && kind != store.KindTemplate {
		return store.Node{}, errValidation("Unknown document kind", map[string]string{"kind": kind})
	}
	return store.Node{
		ID:        util.NewID(),
		Kind:      kind,
		CreatorID: user.UserID,
		Title:     strings.TrimSpace(input.Title),
		Content:   input.Content,
		LinkReach: string(access.ReachRestricted),
	}, nil
}

// GetDocument retrieves a single document. When an authenticated caller
// reaches it through its link rather than a grant, the visit is recorded so
// the document shows up in their listings afterwards.
func (s *Service) GetDocument(ctx context.Context, user Identity, nodeID string) (Document, error) {
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return Document{}, mapStoreErr(err)
	}
	roles, abilities, err := s.resolveAccess(ctx, user, node)
	if err != nil {
		return Document{}, err
	}
	if !abilities.Retrieve {
		return Document{}, errNotFound()
	}
	if node.AncestorsDeletedAt != nil && !abilities.Restore {
		return Document{}, errNotFound()
	}
	if len(roles) == 0 && user.Authenticated {
		if err := s.store.EnsureLinkTrace(ctx, node.ID, user.UserID); err != nil {
			s.logger.Warn("link trace failed", "document_id", node.ID, "error", err)
		}
	}
	return s.toDocument(node, abilities), nil
}

// ListDocuments returns the caller's documents, flattened to the highest
// accessible ancestors: a document is omitted when one of its ancestors is
// in the list already.
func (s *Service) ListDocuments(ctx context.Context, user Identity) ([]Document, error) {
	if !user.Authenticated {
		return nil, errUnauthorized()
	}
	nodes, err := s.store.ListVisibleNodes(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(nodes))
	for i, n := range nodes {
		paths[i] = n.Path
	}
	keep := make(map[string]bool, len(paths))
	for _, p := range treepath.HighestAncestors(paths) {
		keep[p] = true
	}
	docs := make([]Document, 0, len(nodes))
	for _, n := range nodes {
		if !keep[n.Path] {
			continue
		}
		_, abilities, err := s.resolveAccess(ctx, user, n)
		if err != nil {
			return nil, err
		}
		doc := s.toDocument(n, abilities)
		doc.Content = ""
		docs = append(docs, doc)
	}
	return docs, nil
}

// ListChildren returns the live direct children of a document in sibling
// order.
func (s *Service) ListChildren(ctx context.Context, user Identity, nodeID string) ([]Document, error) {
	node, _, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return nil, err
	}
	children, err := s.store.ChildrenOf(ctx, node.Path)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(children))
	for _, child := range children {
		_, abilities, err := s.resolveAccess(ctx, user, child)
		if err != nil {
			return nil, err
		}
		if !abilities.Retrieve {
			continue
		}
		doc := s.toDocument(child, abilities)
		doc.Content = ""
		docs = append(docs, doc)
	}
	return docs, nil
}

// UpdateDocument patches title and content.
func (s *Service) UpdateDocument(ctx context.Context, user Identity, nodeID string, input UpdateDocumentInput) (Document, error) {
	node, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return Document{}, err
	}
	if !abilities.Update {
		return Document{}, errForbidden()
	}
	title := node.Title
	if input.Title != nil {
		title = strings.TrimSpace(*input.Title)
	}
	content := node.Content
	if input.Content != nil {
		content = *input.Content
	}
	if err := s.store.UpdateNodeContent(ctx, node.ID, title, content); err != nil {
		return Document{}, mapStoreErr(err)
	}
	node.Title = title
	node.Content = content
	return s.toDocument(node, abilities), nil
}

// Abilities exposes the caller's computed ability set for a document.
func (s *Service) Abilities(ctx context.Context, user Identity, nodeID string) (access.Abilities, error) {
	_, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return access.Abilities{}, err
	}
	return abilities, nil
}
