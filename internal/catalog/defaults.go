package catalog

// DefaultApps 返回系统内置的能力组与 endpoint。
func DefaultApps() []App {
	return []App{
		{
			ID:          "wallet",
			Name:        "Wallet",
			Version:     "1.0.0",
			Adapter:     "web3",
			Permissions: []string{"wallet"},
			Endpoints: []Endpoint{
				{
					Key:         "wallet.balance.get",
					Function:    "getWalletBalance",
					Args:        Schema{"address": TypeString},
					Scopes:      []string{"wallet"},
					Description: "Check the native token balance of the connected wallet",
					Semantics: Semantics{
						Intents: []string{"check_balance"},
						Tags:    []string{"wallet", "balance", "funds", "eth"},
						Phrases: []string{"check my balance", "how much do i have", "show my wallet balance", "balance of {address}"},
					},
				},
				{
					Key:         "wallet.transactions.count",
					Function:    "getTransactionCount",
					Args:        Schema{"address": TypeString},
					Scopes:      []string{"wallet"},
					Description: "Count the transactions sent from a wallet address",
				},
			},
		},
		{
			ID:          "payments",
			Name:        "Payments",
			Version:     "1.0.0",
			Adapter:     "web3",
			Permissions: []string{"payments", "wallet"},
			Endpoints: []Endpoint{
				{
					Key:         "payments.send",
					Function:    "sendPayment",
					Args:        Schema{"recipient": TypeString, "amount": TypeNumber, "currency": TypeString},
					Scopes:      []string{"payments", "wallet"},
					Description: "Send a payment to a contact or wallet address",
					Semantics: Semantics{
						Intents: []string{"send_payment"},
						Tags:    []string{"payment", "pay", "transfer", "money"},
						Phrases: []string{"pay {recipient} {amount}", "send {amount} to {recipient}", "transfer money"},
					},
				},
			},
		},
		{
			ID:          "messages",
			Name:        "Messages",
			Version:     "1.0.0",
			Adapter:     "storage",
			Permissions: []string{"messages"},
			Endpoints: []Endpoint{
				{
					Key:         "messages.send",
					Function:    "sendMessage",
					Args:        Schema{"recipient": TypeString, "body": TypeString},
					Scopes:      []string{"messages"},
					Description: "Send a direct message to a contact",
					Semantics: Semantics{
						Intents: []string{"send_message"},
						Tags:    []string{"message", "send", "text", "chat"},
						Phrases: []string{"send {recipient} a message", "message {recipient}", "text {recipient}"},
					},
				},
				{
					Key:         "messages.list",
					Function:    "listMessages",
					Args:        Schema{"limit": TypeNumber},
					Scopes:      []string{"messages"},
					Description: "List recent messages in the inbox",
				},
			},
		},
		{
			ID:          "notes",
			Name:        "Notes",
			Version:     "1.0.0",
			Adapter:     "storage",
			Permissions: []string{"notes"},
			Endpoints: []Endpoint{
				{
					Key:         "notes.create",
					Function:    "createNote",
					Args:        Schema{"title": TypeString, "body": TypeString, "tags": "string[]"},
					Scopes:      []string{"notes"},
					Description: "Create a note with a title and body",
				},
				{
					Key:         "notes.list",
					Function:    "listNotes",
					Args:        Schema{"limit": TypeNumber},
					Scopes:      []string{"notes"},
					Description: "List saved notes",
				},
			},
		},
		{
			ID:          "ledger",
			Name:        "Ledger",
			Version:     "1.0.0",
			Adapter:     "web3",
			Permissions: []string{"ledger"},
			Endpoints: []Endpoint{
				{
					Key:         "ledger.entries.list",
					Function:    "listLedgerEntries",
					Args:        Schema{"limit": TypeNumber},
					Scopes:      []string{"ledger"},
					Description: "List ledger entries recorded for the wallet",
				},
				{
					Key:         "ledger.anchor",
					Function:    "anchorToLedger",
					Args:        Schema{"note_id": TypeString},
					Scopes:      []string{"ledger", "wallet"},
					Description: "Anchor a note hash on chain as a ledger entry",
					Semantics: Semantics{
						Intents: []string{"anchor_note"},
						Tags:    []string{"anchor", "ledger", "chain", "proof"},
						Phrases: []string{"anchor it on chain", "anchor my note", "anchor note {note_id}"},
					},
				},
			},
		},
		{
			ID:          "knowledge",
			Name:        "Knowledge",
			Version:     "1.0.0",
			Adapter:     "content",
			Permissions: []string{"knowledge", "search"},
			Endpoints: []Endpoint{
				{
					Key:         "knowledge.topic.get",
					Function:    "getKnowledgeTopic",
					Args:        Schema{"topic": TypeString},
					Scopes:      []string{"knowledge"},
					Description: "Explain a topic from the built-in knowledge base",
				},
				{
					Key:         "knowledge.wikipedia.summary",
					Function:    "getWikipediaSummary",
					Args:        Schema{"query": TypeString},
					Scopes:      []string{"search"},
					Description: "Look up a short encyclopedia summary",
				},
			},
		},
		{
			ID:          "news",
			Name:        "News",
			Version:     "0.1.0",
			Adapter:     "content",
			Permissions: []string{"news"},
			Endpoints: []Endpoint{
				{
					Key:         "news.headlines.get",
					Function:    "getHeadlines",
					Args:        Schema{"topic": TypeString, "limit": TypeNumber},
					Scopes:      []string{"news"},
					Description: "Read the latest news headlines",
				},
			},
		},
		{
			ID:          "system",
			Name:        "System",
			Version:     "1.0.0",
			Adapter:     "local",
			Permissions: []string{"profile"},
			Endpoints: []Endpoint{
				{
					Key:         "system.time.now",
					Function:    "getCurrentTime",
					Args:        Schema{"timezone": TypeString},
					Scopes:      []string{"profile"},
					Description: "Tell the current time",
				},
				{
					Key:         "system.session.get",
					Function:    "getSession",
					Scopes:      []string{"profile"},
					Description: "Show the granted scopes and connected apps of the session",
				},
			},
		},
		{
			ID:          "admin",
			Name:        "Administration",
			Version:     "1.0.0",
			Adapter:     "local",
			Permissions: []string{"admin"},
			Endpoints: []Endpoint{
				{
					Key:         "admin.catalog.reload",
					Function:    "reloadCatalog",
					Scopes:      []string{"admin"},
					Description: "Reload the capability catalog from its manifest sources",
					Policy:      Policy{AllowedRoles: []string{"admin"}, Visibility: "internal"},
				},
			},
		},
	}
}

// ExternalApps 返回由第三方能力组自行编写的 endpoint。
func ExternalApps() []App {
	return []App{
		{
			ID:          "spotify",
			Name:        "Spotify",
			Version:     "2.1.0",
			Adapter:     "oauth",
			Permissions: []string{"music"},
			Endpoints: []Endpoint{
				{
					Key:         "spotify.playback.play",
					Function:    "spotifyPlay",
					Args:        Schema{"query": TypeString},
					Scopes:      []string{"music"},
					Description: "Play music on Spotify",
					Semantics: Semantics{
						Intents: []string{"play_music"},
						Tags:    []string{"music", "play", "song", "spotify"},
						Phrases: []string{"play some music", "play {query}", "put on a song"},
					},
				},
				{
					Key:         "spotify.playlists.list",
					Function:    "spotifyListPlaylists",
					Args:        Schema{"limit": TypeNumber},
					Scopes:      []string{"music"},
					Description: "List your Spotify playlists",
				},
			},
		},
	}
}
