// Package keyhierarchy provides integration with the checkpoint package:
// deriving a master identity and starting the session a checkpoint
// chain signs against.
package keyhierarchy

import (
	"crypto/sha256"
	"fmt"
	"os"
)

// SessionManager derives a master identity and starts the live session
// a checkpoint.Chain signs checkpoints against.
type SessionManager struct {
	session      *Session
	identity     *MasterIdentity
	puf          PUFProvider
	documentPath string
}

// NewSessionManager creates a session manager for a document.
func NewSessionManager(puf PUFProvider, documentPath string) (*SessionManager, error) {
	identity, err := DeriveMasterIdentity(puf)
	if err != nil {
		return nil, fmt.Errorf("derive identity: %w", err)
	}

	content, err := os.ReadFile(documentPath)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	docHash := sha256.Sum256(content)

	session, err := StartSession(puf, docHash)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	return &SessionManager{
		session:      session,
		identity:     identity,
		puf:          puf,
		documentPath: documentPath,
	}, nil
}

// End terminates the session and wipes key material.
func (sm *SessionManager) End() {
	if sm.session != nil {
		sm.session.End()
	}
}

// Identity returns the master identity.
func (sm *SessionManager) Identity() *MasterIdentity {
	return sm.identity
}

// Session returns the live session a checkpoint.Chain should sign against.
func (sm *SessionManager) Session() *Session {
	return sm.session
}

// ExportEvidence creates the key hierarchy evidence for an evidence packet.
func (sm *SessionManager) ExportEvidence() *KeyHierarchyEvidence {
	return sm.session.Export(sm.identity)
}

// LoadOrCreateSoftwarePUF loads or creates a software PUF seed.
// This is a convenience function that wraps NewSoftwarePUFWithPath.
func LoadOrCreateSoftwarePUF(seedPath string) (*SoftwarePUF, error) {
	return NewSoftwarePUFWithPath(seedPath)
}
