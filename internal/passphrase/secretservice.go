package passphrase

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Secret Service API constants (org.freedesktop.secrets).
const (
	secretsDest  = "org.freedesktop.secrets"
	secretsPath  = dbus.ObjectPath("/org/freedesktop/secrets")
	serviceIface = "org.freedesktop.Secret.Service"
	sessionIface = "org.freedesktop.Secret.Session"
)

// dbusSecret mirrors the Secret structure of the Secret Service API.
type dbusSecret struct {
	Session     dbus.ObjectPath
	Parameters  []byte
	Value       []byte
	ContentType string
}

// SecretService returns a Source that fetches the passphrase from the
// desktop secret store (GNOME Keyring, KWallet) over D-Bus. The attributes
// map selects the item, e.g. {"application": "keybox", "container": path}.
//
// Locked items are unlocked only when the store can do so without prompting;
// otherwise ErrCollectionLocked is returned and the caller should fall back
// to an interactive Source.
func SecretService(attributes map[string]string) Source {
	return func(ctx context.Context) ([]byte, error) {
		conn, err := connectSessionBus()
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		svc := conn.Object(secretsDest, secretsPath)

		var discard dbus.Variant
		var sessionPath dbus.ObjectPath
		err = svc.CallWithContext(ctx, serviceIface+".OpenSession", 0,
			"plain", dbus.MakeVariant("")).Store(&discard, &sessionPath)
		if err != nil {
			return nil, fmt.Errorf("passphrase: open session: %w", err)
		}
		defer conn.Object(secretsDest, sessionPath).Call(sessionIface+".Close", 0)

		var unlocked, locked []dbus.ObjectPath
		err = svc.CallWithContext(ctx, serviceIface+".SearchItems", 0,
			attributes).Store(&unlocked, &locked)
		if err != nil {
			return nil, fmt.Errorf("passphrase: search items: %w", err)
		}

		if len(unlocked) == 0 && len(locked) > 0 {
			var nowUnlocked []dbus.ObjectPath
			var prompt dbus.ObjectPath
			err = svc.CallWithContext(ctx, serviceIface+".Unlock", 0,
				locked).Store(&nowUnlocked, &prompt)
			if err != nil {
				return nil, fmt.Errorf("passphrase: unlock: %w", err)
			}
			if len(nowUnlocked) == 0 {
				return nil, ErrCollectionLocked
			}
			unlocked = nowUnlocked
		}

		if len(unlocked) == 0 {
			return nil, ErrSecretNotFound
		}

		secrets := make(map[dbus.ObjectPath]dbusSecret)
		err = svc.CallWithContext(ctx, serviceIface+".GetSecrets", 0,
			unlocked[:1], sessionPath).Store(&secrets)
		if err != nil {
			return nil, fmt.Errorf("passphrase: get secrets: %w", err)
		}

		secret, ok := secrets[unlocked[0]]
		if !ok {
			return nil, ErrSecretNotFound
		}
		return secret.Value, nil
	}
}

// connectSessionBus opens a private session-bus connection the provider can
// close without disturbing the process-wide shared connection.
func connectSessionBus() (*dbus.Conn, error) {
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, fmt.Errorf("passphrase: session bus: %w", err)
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("passphrase: bus auth: %w", err)
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("passphrase: bus hello: %w", err)
	}
	return conn, nil
}
