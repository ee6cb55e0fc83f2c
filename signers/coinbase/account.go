package coinbase

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Account is an EVM account held by CDP. EVM accounts are not bound to a
// chain; the same address signs for every network.
type Account struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type listAccountsResponse struct {
	Accounts      []Account `json:"accounts"`
	NextPageToken string    `json:"nextPageToken,omitempty"`
}

type createAccountRequest struct {
	Name string `json:"name,omitempty"`
}

// EnsureAccount returns the account called name, creating it if the
// project has none. An empty name selects the first existing account.
func (c *Client) EnsureAccount(ctx context.Context, name string) (*Account, error) {
	pageToken := ""
	for {
		path := accountsPath
		if pageToken != "" {
			path += "?pageToken=" + pageToken
		}
		var list listAccountsResponse
		if err := c.do(ctx, "GET", path, nil, &list, false); err != nil {
			return nil, fmt.Errorf("failed to list CDP accounts: %w", err)
		}
		for i := range list.Accounts {
			if name == "" || list.Accounts[i].Name == name {
				return validAccount(&list.Accounts[i])
			}
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}

	var created Account
	if err := c.do(ctx, "POST", accountsPath, createAccountRequest{Name: name}, &created, true); err != nil {
		return nil, fmt.Errorf("failed to create CDP account: %w", err)
	}
	c.logger.Info("created CDP account")
	return validAccount(&created)
}

func validAccount(a *Account) (*Account, error) {
	if !common.IsHexAddress(a.Address) {
		return nil, fmt.Errorf("CDP returned invalid account address %q", a.Address)
	}
	return a, nil
}
