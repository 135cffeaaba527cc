package ibackupcrypt

import "database/sql"

// RelativePath catalogues well-known relative paths for commonly accessed
// backup files, across standard iOS locations and widely installed
// third-party apps.
var RelativePath = struct {
	AddressBook      string
	TextMessages     string
	CallHistory      string
	Notes            string
	NotesV7          string
	Calendars        string
	Health           string
	HealthSecure     string
	SafariHistory    string
	SafariBookmarks  string
	WhatsAppMessages string
	WhatsAppContacts string
}{
	AddressBook:      "Library/AddressBook/AddressBook.sqlitedb",
	TextMessages:     "Library/SMS/sms.db",
	CallHistory:      "Library/CallHistoryDB/CallHistory.storedata",
	Notes:            "Library/Notes/notes.sqlite",
	NotesV7:          "Library/Notes/NotesV7.storedata",
	Calendars:        "Library/Calendar/Calendar.sqlitedb",
	Health:           "Health/healthdb.sqlite",
	HealthSecure:     "Health/healthdb_secure.sqlite",
	SafariHistory:    "Library/Safari/History.db",
	SafariBookmarks:  "Library/Safari/Bookmarks.db",
	WhatsAppMessages: "ChatStorage.sqlite",
	WhatsAppContacts: "ContactsV2.sqlite",
}

// RelativePathsLike catalogues SQL LIKE patterns for commonly accessed
// groups of backup files, for use with Session.LookupLike.
var RelativePathsLike = struct {
	CameraRoll              string
	SMSAttachments           string
	FacebookMessenger        string
	PhotoStream              string
	WhatsAppAttachedImages   string
	WhatsAppAttachedVideos   string
	WhatsAppAttachments      string
}{
	CameraRoll:             "Media/DCIM/%APPLE/IMG%.%",
	SMSAttachments:         "Library/SMS/Attachments/%.%",
	FacebookMessenger:      "Library/MessengerMedia/%.%",
	PhotoStream:            "Media/PhotoStreamsData/%.%",
	WhatsAppAttachedImages: "Message/Media/%.jpg",
	WhatsAppAttachedVideos: "Message/Media/%.mp4",
	WhatsAppAttachments:    "Message/Media/%.%",
}

// FilesUnderDirectory returns the fileIDs of every row under a domain or
// relative-path prefix. Passing a domain name with a trailing slash
// matches by domain; otherwise directory is treated as a relativePath
// prefix.
func (s *Session) FilesUnderDirectory(directory string) ([]string, error) {
	if err := s.EnsureManifest(); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	var err error
	if len(directory) > 0 && directory[len(directory)-1] == '/' {
		domain := directory[:len(directory)-1]
		rows, err = s.idx.DB.Query(`SELECT fileID FROM Files WHERE domain = ?`, domain)
	} else {
		rows, err = s.idx.DB.Query(`SELECT fileID FROM Files WHERE relativePath LIKE ? || '%'`, directory)
	}
	if err != nil {
		return nil, newError(ErrManifestCorrupt, "FilesUnderDirectory", err)
	}
	defer rows.Close()

	var fileIDs []string
	for rows.Next() {
		var fileID string
		if err := rows.Scan(&fileID); err != nil {
			return nil, newError(ErrManifestCorrupt, "FilesUnderDirectory", err)
		}
		fileIDs = append(fileIDs, fileID)
	}
	if err := rows.Err(); err != nil {
		return nil, newError(ErrManifestCorrupt, "FilesUnderDirectory", err)
	}
	return fileIDs, nil
}
