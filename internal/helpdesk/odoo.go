package helpdesk

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/kolo/xmlrpc"

	"launch-helpdesk/internal/models"
)

const ticketModel = "helpdesk.ticket"

// caller is the subset of *xmlrpc.Client used here.
type caller interface {
	Call(serviceMethod string, args interface{}, reply interface{}) error
}

// Odoo creates helpdesk tickets through Odoo's external XML-RPC API.
type Odoo struct {
	db       string
	user     string
	password string
	common   caller
	object   caller

	mu  sync.Mutex
	uid int64
}

func NewOdoo(url, db, user, password string) (*Odoo, error) {
	common, err := xmlrpc.NewClient(url+"/xmlrpc/2/common", nil)
	if err != nil {
		return nil, fmt.Errorf("creating odoo common client: %w", err)
	}
	object, err := xmlrpc.NewClient(url+"/xmlrpc/2/object", nil)
	if err != nil {
		return nil, fmt.Errorf("creating odoo object client: %w", err)
	}
	return newOdoo(common, object, db, user, password), nil
}

func newOdoo(common, object caller, db, user, password string) *Odoo {
	return &Odoo{
		db:       db,
		user:     user,
		password: password,
		common:   common,
		object:   object,
	}
}

// login authenticates once and caches the uid. A failed login is retried on the next call.
func (o *Odoo) login() (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.uid != 0 {
		return o.uid, nil
	}
	var reply interface{}
	if err := o.common.Call("authenticate", []interface{}{o.db, o.user, o.password, map[string]interface{}{}}, &reply); err != nil {
		return 0, fmt.Errorf("odoo authenticate: %w", err)
	}
	uid, ok := reply.(int64)
	if !ok || uid == 0 {
		return 0, fmt.Errorf("odoo authenticate: rejected credentials for %q", o.user)
	}
	o.uid = uid
	slog.Debug("Authenticated to Odoo", "uid", uid)
	return uid, nil
}

func (o *Odoo) execute(model, method string, args []interface{}, kwargs map[string]interface{}, reply interface{}) error {
	uid, err := o.login()
	if err != nil {
		return err
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	params := []interface{}{o.db, uid, o.password, model, method, args, kwargs}
	if err := o.object.Call("execute_kw", params, reply); err != nil {
		return fmt.Errorf("odoo %s.%s: %w", model, method, err)
	}
	return nil
}

func (o *Odoo) CreateTicket(ctx context.Context, req models.TicketRequest) (models.TicketID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fields := map[string]interface{}{
		"name":          "Issue from " + req.AddressFrom,
		"description":   req.Description,
		"partner_email": req.Email,
		"partner_phone": req.Phone,
	}
	var reply interface{}
	if err := o.execute(ticketModel, "create", []interface{}{fields}, nil, &reply); err != nil {
		return 0, err
	}
	id, ok := reply.(int64)
	if !ok || id == 0 {
		return 0, ErrInvalidTicketID
	}
	return models.TicketID(id), nil
}

// CreateNoteWithAttachment uploads the file as an ir.attachment and posts it
// to the ticket chatter.
func (o *Odoo) CreateNoteWithAttachment(ctx context.Context, id models.TicketID, fileName, filePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}

	var attachmentID interface{}
	err = o.execute("ir.attachment", "create", []interface{}{map[string]interface{}{
		"name":      fileName,
		"datas":     base64.StdEncoding.EncodeToString(data),
		"res_model": ticketModel,
		"res_id":    int64(id),
	}}, nil, &attachmentID)
	if err != nil {
		return err
	}
	aid, ok := attachmentID.(int64)
	if !ok || aid == 0 {
		return fmt.Errorf("odoo returned no attachment id for %s", fileName)
	}

	var msgID interface{}
	return o.execute(ticketModel, "message_post", []interface{}{[]interface{}{int64(id)}}, map[string]interface{}{
		"body":           "Logs from the user",
		"message_type":   "comment",
		"attachment_ids": []interface{}{aid},
	}, &msgID)
}
