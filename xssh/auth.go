// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xssh

import (
	"io"

	"code.hybscloud.com/sshsess"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AuthMethod returns an authenticator that runs m on an xssh Engine.
// name labels the attempt in logs. On any other engine the attempt
// fails with ErrorMethodNotSupported.
func AuthMethod(name string, m ssh.AuthMethod) sshsess.Authenticator {
	return sshsess.AuthenticatorFunc(func(ac sshsess.AuthContext) error {
		e, ok := ac.Engine.(*Engine)
		if !ok {
			return sshsess.ErrorMethodNotSupported
		}
		return e.userauth(ac.Username, name, m)
	})
}

// Agent authenticates with the keys held by the SSH agent reachable
// over conn, typically a connection to $SSH_AUTH_SOCK.
func Agent(conn io.ReadWriter) sshsess.Authenticator {
	return AuthMethod("agent", ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
}

// Signers authenticates with already parsed keys.
func Signers(signers ...ssh.Signer) sshsess.Authenticator {
	return AuthMethod("publickey", ssh.PublicKeys(signers...))
}

// KeyboardInteractive authenticates by answering the server's
// challenges with answer.
func KeyboardInteractive(answer ssh.KeyboardInteractiveChallenge) sshsess.Authenticator {
	return AuthMethod("keyboard-interactive", ssh.KeyboardInteractive(answer))
}
