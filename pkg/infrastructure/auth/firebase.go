package auth

import (
	"context"
	"fmt"

	firebaseauth "firebase.google.com/go/v4/auth"

	shared "github.com/fitglue/ingest/pkg"
)

// FirebaseVerifier checks Firebase ID tokens issued to the web and mobile apps.
type FirebaseVerifier struct {
	Client *firebaseauth.Client
}

var _ shared.IDTokenVerifier = (*FirebaseVerifier)(nil)

func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (string, error) {
	token, err := v.Client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", fmt.Errorf("verify id token: %w", err)
	}
	return token.UID, nil
}
